package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds the scalar aggregates of one cluster.
type Summary struct {
	Energy float64 // total deposited energy
	XMean  float64
	YMean  float64
	ZMean  float64
}

// Aggregate sums the cluster's deposits and averages its coordinates.
// NaN values are left out of both the sum and the means; an axis with no
// valid value has a NaN mean and a cluster with no valid deposit has zero
// energy. An empty cluster violates the clusterer's invariant and panics.
func Aggregate(c Cluster) Summary {
	n := len(c.Samples)
	if n == 0 {
		panic("cluster: Aggregate called on empty cluster")
	}

	energy := make([]float64, 0, n)
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	zs := make([]float64, 0, n)
	for _, s := range c.Samples {
		energy = appendValid(energy, s.Energy)
		xs = appendValid(xs, s.Pos.X)
		ys = appendValid(ys, s.Pos.Y)
		zs = appendValid(zs, s.Pos.Z)
	}

	return Summary{
		Energy: floats.Sum(energy),
		XMean:  validMean(xs),
		YMean:  validMean(ys),
		ZMean:  validMean(zs),
	}
}

func appendValid(dst []float64, v float64) []float64 {
	if math.IsNaN(v) {
		return dst
	}
	return append(dst, v)
}

func validMean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}
