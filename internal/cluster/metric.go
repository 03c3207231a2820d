package cluster

import (
	"fmt"
	"math"

	"github.com/banshee-data/htpc-reduce/internal/event"
)

// Metric names accepted by ParseMetric.
const (
	MetricEuclidean = "euclidean"
	MetricAxis      = "axis"
)

// Metric measures the separation between two sample positions.
// Implementations must be non-negative and symmetric. NaN inputs yield NaN.
type Metric interface {
	Distance(a, b event.Vec3) float64
	Name() string
}

// Euclidean is the full 3D distance between two positions.
type Euclidean struct{}

// Distance returns sqrt(dx² + dy² + dz²).
func (Euclidean) Distance(a, b event.Vec3) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	dz := b.Z - a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (Euclidean) Name() string { return MetricEuclidean }

// AxisMetric compares positions along a single axis; the other two
// coordinates are ignored.
type AxisMetric struct {
	Axis event.Axis
}

// Distance returns |b[axis] - a[axis]|.
func (m AxisMetric) Distance(a, b event.Vec3) float64 {
	return math.Abs(b.Component(m.Axis) - a.Component(m.Axis))
}

func (m AxisMetric) Name() string { return MetricAxis + ":" + m.Axis.String() }

// ParseMetric builds a Metric from its configuration name. axis is only
// consulted for the single-axis metric.
func ParseMetric(name, axis string) (Metric, error) {
	switch name {
	case MetricEuclidean:
		return Euclidean{}, nil
	case MetricAxis:
		a, err := event.ParseAxis(axis)
		if err != nil {
			return nil, err
		}
		return AxisMetric{Axis: a}, nil
	}
	return nil, fmt.Errorf("unknown metric %q (want %q or %q)", name, MetricEuclidean, MetricAxis)
}
