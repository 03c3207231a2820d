package reduce

import (
	"github.com/banshee-data/htpc-reduce/internal/cluster"
	"github.com/banshee-data/htpc-reduce/internal/event"
)

// SkipReason says why an event produced no reduced record.
type SkipReason int

const (
	SkipNone         SkipReason = iota // event reduced successfully
	SkipNoDeposit                      // total energy present and not positive
	SkipMalformed                      // per-step columns disagree with sample_count
	SkipNoGamma                        // enriched variant: no gamma-typed pre-step
	SkipEmpty                          // no sample with a positive deposit
	SkipMissingField                   // primary vertex absent
)

var skipNames = map[SkipReason]string{
	SkipNone:         "none",
	SkipNoDeposit:    "no_deposit",
	SkipMalformed:    "malformed",
	SkipNoGamma:      "no_gamma",
	SkipEmpty:        "empty",
	SkipMissingField: "missing_field",
}

func (r SkipReason) String() string {
	if s, ok := skipNames[r]; ok {
		return s
	}
	return "unknown"
}

// ReducedEvent holds the per-cluster aggregates of one event. The four
// per-cluster slices are parallel and have ClusterCount entries.
type ReducedEvent struct {
	SourceIndex  int
	ClusterCount int
	Energy       []float64
	XMean        []float64
	YMean        []float64
	ZMean        []float64
	Primary      event.Vec3
	GammaEnergy  *float64
}

// Result is the outcome of reducing one event: either Event is set and
// Skip is SkipNone, or Event is nil and Skip names the reason. Err carries
// the underlying cause of a skip, for debug logging only.
type Result struct {
	Event *ReducedEvent
	Skip  SkipReason
	Err   error
}

// OK reports whether the event survived reduction.
func (r Result) OK() bool { return r.Event != nil }

func skipped(reason SkipReason, err error) Result {
	return Result{Skip: reason, Err: err}
}

// Reducer clusters and aggregates single events.
type Reducer struct {
	Scale        float64
	Metric       cluster.Metric
	RequireGamma bool // enriched variant: look up the first gamma pre-step energy
}

// NewReducer returns a Reducer. A nil metric selects the z-axis metric.
func NewReducer(scale float64, m cluster.Metric, requireGamma bool) *Reducer {
	if m == nil {
		m = cluster.AxisMetric{Axis: event.AxisZ}
	}
	return &Reducer{Scale: scale, Metric: m, RequireGamma: requireGamma}
}

// Reduce builds the ReducedEvent for ev, or a skip. It never returns a
// partially filled record.
func (r *Reducer) Reduce(ev *event.RawEvent) Result {
	if ev.TotalEnergy != nil && !(*ev.TotalEnergy > 0) {
		return skipped(SkipNoDeposit, nil)
	}
	if err := ev.Validate(); err != nil {
		return skipped(SkipMalformed, err)
	}
	if ev.Primary == nil {
		return skipped(SkipMissingField, event.ErrMissingPrimary)
	}

	var gamma *float64
	if r.RequireGamma {
		e, err := ev.FirstGammaEnergy()
		if err != nil {
			return skipped(SkipNoGamma, err)
		}
		gamma = &e
	}

	clusters, err := cluster.Sequential(ev.Samples(), r.Scale, r.Metric)
	if err != nil {
		return skipped(SkipEmpty, err)
	}

	n := len(clusters)
	out := &ReducedEvent{
		SourceIndex:  ev.Index,
		ClusterCount: n,
		Energy:       make([]float64, n),
		XMean:        make([]float64, n),
		YMean:        make([]float64, n),
		ZMean:        make([]float64, n),
		Primary:      *ev.Primary,
		GammaEnergy:  gamma,
	}
	for i, c := range clusters {
		s := cluster.Aggregate(c)
		out.Energy[i] = s.Energy
		out.XMean[i] = s.XMean
		out.YMean[i] = s.YMean
		out.ZMean[i] = s.ZMean
	}

	return Result{Event: out}
}
