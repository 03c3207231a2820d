package cluster

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/htpc-reduce/internal/event"
)

// zSamples builds samples spaced along z with the given deposits.
func zSamples(z, e []float64) []event.Sample {
	out := make([]event.Sample, len(z))
	for i := range z {
		out[i] = event.Sample{Index: i, Pos: event.Vec3{Z: z[i]}, Energy: e[i]}
	}
	return out
}

var zAxis = AxisMetric{Axis: event.AxisZ}

// =============================================================================
// Tests: Metrics
// =============================================================================

func TestEuclidean_Distance(t *testing.T) {
	d := Euclidean{}.Distance(event.Vec3{X: 0, Y: 0, Z: 0}, event.Vec3{X: 3, Y: 4, Z: 12})
	if d != 13 {
		t.Errorf("expected 13, got %v", d)
	}
	if (Euclidean{}).Distance(event.Vec3{X: 1, Y: 2, Z: 3}, event.Vec3{X: 1, Y: 2, Z: 3}) != 0 {
		t.Error("expected zero distance for identical points")
	}
}

func TestAxisMetric_IgnoresOtherAxes(t *testing.T) {
	a := event.Vec3{X: 100, Y: -50, Z: 2}
	b := event.Vec3{X: -100, Y: 50, Z: 5}
	if d := zAxis.Distance(a, b); d != 3 {
		t.Errorf("expected 3, got %v", d)
	}
	if zAxis.Distance(a, b) != zAxis.Distance(b, a) {
		t.Error("axis metric not symmetric")
	}
	if d := (AxisMetric{Axis: event.AxisX}).Distance(a, b); d != 200 {
		t.Errorf("expected 200 along x, got %v", d)
	}
}

func TestMetric_NaNPropagates(t *testing.T) {
	nan := event.Vec3{Z: math.NaN()}
	if !math.IsNaN(zAxis.Distance(nan, event.Vec3{})) {
		t.Error("expected NaN from axis metric")
	}
	if !math.IsNaN(Euclidean{}.Distance(nan, event.Vec3{})) {
		t.Error("expected NaN from euclidean metric")
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("axis", "z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name() != "axis:z" {
		t.Errorf("expected axis:z, got %s", m.Name())
	}
	m, err = ParseMetric("euclidean", "")
	if err != nil || m.Name() != "euclidean" {
		t.Errorf("expected euclidean, got %v (%v)", m, err)
	}
	if _, err := ParseMetric("manhattan", "z"); err == nil {
		t.Error("expected error for unknown metric")
	}
	if _, err := ParseMetric("axis", "q"); err == nil {
		t.Error("expected error for unknown axis")
	}
}

// =============================================================================
// Tests: Sequential clustering
// =============================================================================

func TestSequential_TwoClusters(t *testing.T) {
	samples := zSamples([]float64{0, 1, 2, 20, 21}, []float64{1, 1, 1, 1, 1})

	clusters, err := Sequential(samples, 10, zAxis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if diff := cmp.Diff([]int{0, 1, 2}, clusters[0].Indices()); diff != "" {
		t.Errorf("cluster 0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 4}, clusters[1].Indices()); diff != "" {
		t.Errorf("cluster 1 mismatch (-want +got):\n%s", diff)
	}
}

func TestSequential_ExactThresholdSplits(t *testing.T) {
	samples := zSamples([]float64{0, 10}, []float64{1, 1})

	clusters, err := Sequential(samples, 10, zAxis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("distance == scale must split: expected 2 clusters, got %d", len(clusters))
	}
	if clusters[0].Len() != 1 || clusters[1].Len() != 1 {
		t.Errorf("expected singleton clusters, got %d and %d", clusters[0].Len(), clusters[1].Len())
	}

	// Just under the threshold joins.
	samples = zSamples([]float64{0, math.Nextafter(10, 0)}, []float64{1, 1})
	clusters, _ = Sequential(samples, 10, zAxis)
	if len(clusters) != 1 {
		t.Errorf("expected 1 cluster just below threshold, got %d", len(clusters))
	}
}

func TestSequential_Chaining(t *testing.T) {
	// 0 -> 6 -> 12: each step is < 10 but the ends are 12 apart.
	samples := zSamples([]float64{0, 6, 12}, []float64{1, 1, 1})
	clusters, err := Sequential(samples, 10, zAxis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) != 1 {
		t.Errorf("expected chained single cluster, got %d", len(clusters))
	}
}

func TestSequential_MasksNonDepositing(t *testing.T) {
	// The zero-energy step at z=5 is skipped, so 0 and 12 are compared directly.
	samples := zSamples([]float64{0, 5, 12}, []float64{1, 0, 1})
	clusters, err := Sequential(samples, 10, zAxis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if clusters[1].Indices()[0] != 2 {
		t.Errorf("expected second cluster to start at raw index 2, got %v", clusters[1].Indices())
	}
}

func TestSequential_AllZeroEnergy(t *testing.T) {
	samples := zSamples([]float64{0, 1, 2}, []float64{0, 0, -1})
	_, err := Sequential(samples, 10, zAxis)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := Sequential(nil, 10, zAxis); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput for nil input, got %v", err)
	}
}

func TestSequential_NaNPositionBreaksChain(t *testing.T) {
	samples := zSamples([]float64{0, math.NaN(), 1}, []float64{1, 1, 1})
	clusters, err := Sequential(samples, 10, zAxis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) != 3 {
		t.Errorf("expected NaN comparisons to close clusters (3 clusters), got %d", len(clusters))
	}
}

func TestSequential_SingleSample(t *testing.T) {
	clusters, err := Sequential(zSamples([]float64{4}, []float64{2}), 10, zAxis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) != 1 || clusters[0].Len() != 1 {
		t.Errorf("expected one singleton cluster, got %+v", clusters)
	}
}

// TestSequential_PartitionProperty checks over random inputs that clusters
// cover the masked samples exactly once, in order, and that adjacency and
// boundary distances respect the scale.
func TestSequential_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	metrics := []Metric{zAxis, Euclidean{}}

	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(40)
		samples := make([]event.Sample, n)
		for i := range samples {
			e := rng.Float64()
			if rng.Intn(4) == 0 {
				e = 0
			}
			samples[i] = event.Sample{
				Index:  i,
				Pos:    event.Vec3{X: rng.Float64() * 30, Y: rng.Float64() * 30, Z: rng.Float64() * 60},
				Energy: e,
			}
		}
		samples[rng.Intn(n)].Energy = 1 // at least one depositing sample
		scale := 0.5 + rng.Float64()*20
		m := metrics[iter%len(metrics)]

		clusters, err := Sequential(samples, scale, m)
		if err != nil {
			t.Fatalf("iter %d: unexpected error: %v", iter, err)
		}
		if len(clusters) == 0 {
			t.Fatalf("iter %d: no clusters", iter)
		}

		var got []int
		for ci, c := range clusters {
			if c.Len() == 0 {
				t.Fatalf("iter %d: empty cluster %d", iter, ci)
			}
			for k := 1; k < c.Len(); k++ {
				if d := m.Distance(c.Samples[k-1].Pos, c.Samples[k].Pos); !(d < scale) {
					t.Fatalf("iter %d: adjacent distance %v >= scale %v", iter, d, scale)
				}
			}
			if ci > 0 {
				last := clusters[ci-1].Samples[clusters[ci-1].Len()-1]
				if d := m.Distance(last.Pos, c.Samples[0].Pos); d < scale {
					t.Fatalf("iter %d: boundary distance %v < scale %v", iter, d, scale)
				}
			}
			got = append(got, c.Indices()...)
		}

		var want []int
		for _, s := range Masked(samples) {
			want = append(want, s.Index)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("iter %d: partition mismatch (-want +got):\n%s", iter, diff)
		}
	}
}
