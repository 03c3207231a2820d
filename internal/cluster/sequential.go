package cluster

import (
	"errors"

	"github.com/banshee-data/htpc-reduce/internal/event"
)

// DefaultScale is the default cluster separation, in position units.
const DefaultScale = 10.0

// ErrEmptyInput is returned when an event has no sample with a positive
// energy deposit. Callers treat it as a per-event skip.
var ErrEmptyInput = errors.New("no energy-depositing samples")

// Cluster is an ordered run of consecutive depositing samples.
type Cluster struct {
	Samples []event.Sample
}

// Len returns the number of samples in the cluster.
func (c Cluster) Len() int { return len(c.Samples) }

// Indices returns the raw step indices of the cluster's samples.
func (c Cluster) Indices() []int {
	idx := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		idx[i] = s.Index
	}
	return idx
}

// Masked returns the samples with a strictly positive energy deposit,
// preserving their order. NaN deposits are dropped.
func Masked(samples []event.Sample) []event.Sample {
	out := make([]event.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Energy > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Sequential partitions the depositing samples into maximal chains in which
// every sample lies strictly closer than scale to its immediate predecessor.
//
// Each sample is compared with the previous depositing sample, not with a
// cluster centroid, so a cluster can span more than scale end to end. A
// distance equal to scale (or NaN) starts a new cluster. The first cluster
// is seeded with the first depositing sample without any comparison.
func Sequential(samples []event.Sample, scale float64, m Metric) ([]Cluster, error) {
	masked := Masked(samples)
	if len(masked) == 0 {
		return nil, ErrEmptyInput
	}

	var clusters []Cluster
	current := []event.Sample{masked[0]}
	prev := masked[0].Pos
	for _, s := range masked[1:] {
		d := m.Distance(prev, s.Pos)
		prev = s.Pos
		if d < scale {
			current = append(current, s)
			continue
		}
		clusters = append(clusters, Cluster{Samples: current})
		current = []event.Sample{s}
	}
	clusters = append(clusters, Cluster{Samples: current})

	return clusters, nil
}
