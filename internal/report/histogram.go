package report

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/htpc-reduce/internal/fsutil"
	"github.com/banshee-data/htpc-reduce/internal/reduce"
)

// WriteEnergyHistogram draws the cluster energy distribution of rows as a
// PNG at path.
func WriteEnergyHistogram(fsys fsutil.FileSystem, path, title string, rows []reduce.FlatRow, bins int) error {
	energies := clusterEnergies(rows)
	if len(energies) == 0 {
		return ErrNoRows
	}
	if bins <= 0 {
		bins = DefaultBins
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Cluster energy"
	p.Y.Label.Text = "Clusters"

	h, err := plotter.NewHist(plotter.Values(energies), bins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
