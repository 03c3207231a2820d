// Package scatter computes per-event background-scatter summaries: an
// energy-weighted mean position, total deposited energy and a multi-site
// flag. Unlike the cluster reduction it emits one row per event.
package scatter

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/htpc-reduce/internal/event"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
	"github.com/banshee-data/htpc-reduce/internal/reduce"
)

// DefaultMultiSiteThreshold is the z spread above which an event is
// flagged as multi-site.
const DefaultMultiSiteThreshold = 10.0

// Row is the scatter summary of one event.
type Row struct {
	EventID     int
	SourceIndex int
	XPos        float64
	YPos        float64
	ZPos        float64
	EScatter    float64
	MultiSite   bool
}

// Summarise computes the scatter row for ev over its depositing steps.
// ok is false when ev is malformed, has etot <= 0, or deposits nothing.
func Summarise(ev *event.RawEvent, threshold float64) (row Row, ok bool) {
	if ev.TotalEnergy != nil && !(*ev.TotalEnergy > 0) {
		return Row{}, false
	}
	if err := ev.Validate(); err != nil {
		return Row{}, false
	}

	var xs, ys, zs, ws []float64
	for i := 0; i < ev.SampleCount; i++ {
		if !(ev.EnergyDeposit[i] > 0) {
			continue
		}
		xs = append(xs, ev.X[i])
		ys = append(ys, ev.Y[i])
		zs = append(zs, ev.Z[i])
		ws = append(ws, ev.EnergyDeposit[i])
	}
	if len(ws) == 0 {
		return Row{}, false
	}

	return Row{
		SourceIndex: ev.Index,
		XPos:        stat.Mean(xs, ws),
		YPos:        stat.Mean(ys, ws),
		ZPos:        stat.Mean(zs, ws),
		EScatter:    floats.Sum(ws),
		MultiSite:   floats.Max(zs)-floats.Min(zs) > threshold,
	}, true
}

// Sink consumes the scatter rows of one chunk.
type Sink func(ctx context.Context, rows []Row) error

// Stats summarises a scatter run.
type Stats struct {
	Chunks  int
	Events  int
	Rows    int
	Skipped int
}

// Processor walks a chunk source and summarises every event.
type Processor struct {
	Source    reduce.ChunkSource
	ChunkSize int
	Threshold float64
	Progress  *monitoring.Progress // optional
}

// NewProcessor returns a Processor with default chunk size and threshold
// when chunkSize or threshold are not positive.
func NewProcessor(src reduce.ChunkSource, chunkSize int, threshold float64) *Processor {
	if chunkSize <= 0 {
		chunkSize = reduce.DefaultChunkSize
	}
	if threshold <= 0 {
		threshold = DefaultMultiSiteThreshold
	}
	return &Processor{Source: src, ChunkSize: chunkSize, Threshold: threshold}
}

// Stream summarises records [0, total) chunk by chunk. Event ids count the
// emitted rows from 0 across the whole run.
func (p *Processor) Stream(ctx context.Context, total int, sink Sink) (Stats, error) {
	var stats Stats
	next := 0
	for _, r := range reduce.Ranges(total, p.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		events, err := p.Source.ReadRange(ctx, r.Start, r.End)
		if err != nil {
			return stats, fmt.Errorf("reading records [%d, %d): %w", r.Start, r.End, err)
		}
		if len(events) > r.End-r.Start {
			return stats, fmt.Errorf("records [%d, %d): source returned %d events", r.Start, r.End, len(events))
		}

		rows := make([]Row, 0, len(events))
		for i := range events {
			row, ok := Summarise(&events[i], p.Threshold)
			if !ok {
				stats.Skipped++
				continue
			}
			row.EventID = next
			next++
			rows = append(rows, row)
		}
		if len(rows) > 0 {
			if err := sink(ctx, rows); err != nil {
				return stats, fmt.Errorf("writing scatter rows for [%d, %d): %w", r.Start, r.End, err)
			}
		}

		stats.Chunks++
		stats.Events += len(events)
		stats.Rows += len(rows)
		if p.Progress != nil {
			p.Progress.Report(r.End, total, stats.Rows)
		}
	}
	return stats, nil
}
