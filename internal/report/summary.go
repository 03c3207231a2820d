// Package report renders run summaries: a PNG energy histogram drawn with
// gonum/plot and an HTML page of go-echarts bar charts.
package report

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/htpc-reduce/internal/reduce"
)

// DefaultBins is the number of energy bins used when none is given.
const DefaultBins = 50

// ErrNoRows is returned when there is nothing to plot.
var ErrNoRows = errors.New("no cluster rows to report")

// Summary aggregates a run's cluster rows for display.
type Summary struct {
	Title   string
	Events  int
	Rows    int
	Skipped map[string]int

	// Multiplicity maps clusters-per-event to the number of events.
	Multiplicity map[int]int
	// EnergyEdges has len(EnergyCounts)+1 bin edges.
	EnergyEdges  []float64
	EnergyCounts []float64
	MeanEnergy   float64
}

// Summarise builds a Summary over rows using bins energy bins.
func Summarise(title string, rows []reduce.FlatRow, bins int) (Summary, error) {
	if len(rows) == 0 {
		return Summary{}, ErrNoRows
	}
	if bins <= 0 {
		bins = DefaultBins
	}

	s := Summary{Title: title, Rows: len(rows), Multiplicity: make(map[int]int)}
	energies := clusterEnergies(rows)
	for _, r := range rows {
		if r.ClusterIndex == 0 {
			s.Events++
			s.Multiplicity[r.ClusterCount]++
		}
	}
	if len(energies) == 0 {
		return s, nil
	}

	sort.Float64s(energies)
	lo, hi := energies[0], energies[len(energies)-1]
	if hi == lo {
		hi = lo + 1
	} else {
		hi = math.Nextafter(hi, math.Inf(1))
	}
	s.EnergyEdges = floats.Span(make([]float64, bins+1), lo, hi)
	s.EnergyEdges[bins] = hi
	s.EnergyCounts = stat.Histogram(nil, s.EnergyEdges, energies, nil)
	s.MeanEnergy = stat.Mean(energies, nil)
	return s, nil
}

// clusterEnergies returns the finite cluster energies of rows.
func clusterEnergies(rows []reduce.FlatRow) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if !math.IsNaN(r.Energy) && !math.IsInf(r.Energy, 0) {
			out = append(out, r.Energy)
		}
	}
	return out
}
