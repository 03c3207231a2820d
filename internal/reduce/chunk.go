package reduce

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/htpc-reduce/internal/event"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
)

// FlatRow is one cluster of one surviving event in the output table.
type FlatRow struct {
	EventID      int
	ClusterIndex int
	ClusterCount int
	Energy       float64
	XMean        float64
	YMean        float64
	ZMean        float64
	Primary      event.Vec3
	GammaEnergy  *float64
}

// ChunkStats counts what happened to the events of one chunk.
type ChunkStats struct {
	Events  int
	Reduced int
	Rows    int
	Skipped map[SkipReason]int
}

// SkippedTotal returns the number of skipped events across all reasons.
func (s ChunkStats) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// ChunkResult is the output of processing one chunk.
type ChunkResult struct {
	Rows       []FlatRow
	NextOffset int
	Stats      ChunkStats
}

// ChunkProcessor reduces every event of a chunk and flattens the survivors.
type ChunkProcessor struct {
	Reducer *Reducer
	// Workers bounds concurrent event reductions within a chunk.
	// Values below 2 reduce sequentially.
	Workers int
}

// NewChunkProcessor returns a ChunkProcessor using r.
func NewChunkProcessor(r *Reducer, workers int) *ChunkProcessor {
	return &ChunkProcessor{Reducer: r, Workers: workers}
}

// Process reduces events in order and assigns event ids starting at
// startingOffset. NextOffset is startingOffset plus the survivor count, so
// a chunk where every event is skipped leaves the offset unchanged.
func (p *ChunkProcessor) Process(ctx context.Context, events []event.RawEvent, startingOffset int) (ChunkResult, error) {
	results, err := p.reduceAll(ctx, events)
	if err != nil {
		return ChunkResult{}, err
	}

	stats := ChunkStats{Events: len(events), Skipped: make(map[SkipReason]int)}
	survivors := make([]ReducedEvent, 0, len(results))
	for i, res := range results {
		if !res.OK() {
			stats.Skipped[res.Skip]++
			monitoring.Debugf("[reduce] skip event %d: %s (%v)", events[i].Index, res.Skip, res.Err)
			continue
		}
		survivors = append(survivors, *res.Event)
	}
	stats.Reduced = len(survivors)

	rows, err := Flatten(survivors, startingOffset)
	if err != nil {
		return ChunkResult{}, err
	}
	stats.Rows = len(rows)

	return ChunkResult{
		Rows:       rows,
		NextOffset: startingOffset + len(survivors),
		Stats:      stats,
	}, nil
}

// reduceAll runs the reducer over every event. Results are stored by index,
// so their order matches the chunk regardless of scheduling.
func (p *ChunkProcessor) reduceAll(ctx context.Context, events []event.RawEvent) ([]Result, error) {
	results := make([]Result, len(events))
	if p.Workers < 2 {
		for i := range events {
			results[i] = p.Reducer.Reduce(&events[i])
		}
		return results, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i := range events {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.Reducer.Reduce(&events[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Flatten expands reduced events into one row per cluster. The i-th event
// gets event id offset+i. A length mismatch between ClusterCount and the
// per-cluster columns is an *InvariantError.
func Flatten(reduced []ReducedEvent, offset int) ([]FlatRow, error) {
	total := 0
	for i := range reduced {
		ev := &reduced[i]
		n := ev.ClusterCount
		if len(ev.Energy) != n || len(ev.XMean) != n || len(ev.YMean) != n || len(ev.ZMean) != n {
			return nil, newInvariantError(InvariantClusterColumns, offset+i,
				"cluster_count=%d energy=%d x=%d y=%d z=%d (source index %d)",
				n, len(ev.Energy), len(ev.XMean), len(ev.YMean), len(ev.ZMean), ev.SourceIndex)
		}
		total += n
	}

	rows := make([]FlatRow, 0, total)
	for i := range reduced {
		ev := &reduced[i]
		for j := 0; j < ev.ClusterCount; j++ {
			rows = append(rows, FlatRow{
				EventID:      offset + i,
				ClusterIndex: j,
				ClusterCount: ev.ClusterCount,
				Energy:       ev.Energy[j],
				XMean:        ev.XMean[j],
				YMean:        ev.YMean[j],
				ZMean:        ev.ZMean[j],
				Primary:      ev.Primary,
				GammaEnergy:  ev.GammaEnergy,
			})
		}
	}
	return rows, nil
}
