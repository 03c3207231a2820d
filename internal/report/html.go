package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteSummaryHTML renders s as a page of bar charts: cluster multiplicity,
// cluster energy and, when present, skipped events by reason.
func WriteSummaryHTML(w io.Writer, s Summary) error {
	page := components.NewPage()
	page.PageTitle = s.Title
	page.AddCharts(multiplicityChart(s), energyChart(s))
	if len(s.Skipped) > 0 {
		page.AddCharts(skippedChart(s))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	return nil
}

func newBar(title, subtitle string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	return bar
}

func multiplicityChart(s Summary) *charts.Bar {
	counts := make([]int, 0, len(s.Multiplicity))
	for k := range s.Multiplicity {
		counts = append(counts, k)
	}
	sort.Ints(counts)

	x := make([]string, len(counts))
	y := make([]opts.BarData, len(counts))
	for i, k := range counts {
		x[i] = strconv.Itoa(k)
		y[i] = opts.BarData{Value: s.Multiplicity[k]}
	}

	bar := newBar("Clusters per event", fmt.Sprintf("%s events=%d rows=%d", s.Title, s.Events, s.Rows))
	bar.SetXAxis(x).
		AddSeries("events", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func energyChart(s Summary) *charts.Bar {
	x := make([]string, len(s.EnergyCounts))
	y := make([]opts.BarData, len(s.EnergyCounts))
	for i, c := range s.EnergyCounts {
		x[i] = strconv.FormatFloat((s.EnergyEdges[i]+s.EnergyEdges[i+1])/2, 'g', 4, 64)
		y[i] = opts.BarData{Value: c}
	}

	bar := newBar("Cluster energy", fmt.Sprintf("mean=%.4g", s.MeanEnergy))
	bar.SetXAxis(x).AddSeries("clusters", y)
	return bar
}

func skippedChart(s Summary) *charts.Bar {
	reasons := make([]string, 0, len(s.Skipped))
	for r := range s.Skipped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	y := make([]opts.BarData, len(reasons))
	for i, r := range reasons {
		y[i] = opts.BarData{Value: s.Skipped[r]}
	}

	bar := newBar("Skipped events", "")
	bar.SetXAxis(reasons).
		AddSeries("skipped", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}
