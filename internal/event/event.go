package event

import (
	"errors"
	"fmt"
)

// GammaType is the particle type label used for the enriched gamma lookup.
const GammaType = "gamma"

// Axis selects one coordinate of a Vec3.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// String returns the lower-case axis name.
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// ParseAxis maps "x", "y" or "z" to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	case "z", "Z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("unknown axis %q (want x, y or z)", s)
}

// Vec3 is a position in detector coordinates.
type Vec3 struct {
	X, Y, Z float64
}

// Component returns the coordinate along axis a.
func (v Vec3) Component(a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// Sample is one step of an event: a position and the energy deposited there.
type Sample struct {
	Index  int // position in the event's raw step arrays
	Pos    Vec3
	Energy float64
}

// RawEvent is one simulated interaction as delivered by a chunk source.
// The per-step slices are parallel and must all have SampleCount entries;
// SampleType and PreStepEnergy are only present for the enriched variant.
type RawEvent struct {
	Index       int // record index in the source
	SampleCount int

	X, Y, Z       []float64
	EnergyDeposit []float64
	Time          []float64

	SampleType    []string
	PreStepEnergy []float64

	Primary     *Vec3    // nil when any primary coordinate is missing
	TotalEnergy *float64 // etot; nil when the source does not provide it
}

var (
	// ErrMalformed reports per-step columns that disagree with SampleCount.
	ErrMalformed = errors.New("malformed event columns")
	// ErrNoGamma reports an event with no gamma-typed pre-step sample.
	ErrNoGamma = errors.New("no gamma-typed sample")
	// ErrMissingPrimary reports an event without a complete primary vertex.
	ErrMissingPrimary = errors.New("missing primary vertex")
)

// Validate checks that every per-step column matches SampleCount.
// Time, SampleType and PreStepEnergy may be absent (nil) but not short.
func (e *RawEvent) Validate() error {
	if e.SampleCount < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrMalformed, e.SampleCount)
	}
	required := []struct {
		name string
		n    int
	}{
		{"x", len(e.X)},
		{"y", len(e.Y)},
		{"z", len(e.Z)},
		{"energy_deposit", len(e.EnergyDeposit)},
	}
	for _, c := range required {
		if c.n != e.SampleCount {
			return fmt.Errorf("%w: %s has %d entries, sample_count=%d", ErrMalformed, c.name, c.n, e.SampleCount)
		}
	}
	if e.Time != nil && len(e.Time) != e.SampleCount {
		return fmt.Errorf("%w: time has %d entries, sample_count=%d", ErrMalformed, len(e.Time), e.SampleCount)
	}
	if len(e.SampleType) != len(e.PreStepEnergy) {
		return fmt.Errorf("%w: type has %d entries, pre_step_energy has %d", ErrMalformed, len(e.SampleType), len(e.PreStepEnergy))
	}
	return nil
}

// Samples returns every step as a Sample, in acquisition order.
// Call Validate first; Samples assumes the columns line up.
func (e *RawEvent) Samples() []Sample {
	out := make([]Sample, e.SampleCount)
	for i := range out {
		out[i] = Sample{
			Index:  i,
			Pos:    Vec3{X: e.X[i], Y: e.Y[i], Z: e.Z[i]},
			Energy: e.EnergyDeposit[i],
		}
	}
	return out
}

// FirstGammaEnergy returns the pre-step energy of the first gamma-typed step.
func (e *RawEvent) FirstGammaEnergy() (float64, error) {
	for i, t := range e.SampleType {
		if t == GammaType {
			return e.PreStepEnergy[i], nil
		}
	}
	return 0, ErrNoGamma
}
