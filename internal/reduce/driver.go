package reduce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/htpc-reduce/internal/event"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
	"github.com/banshee-data/htpc-reduce/internal/timeutil"
)

// DefaultChunkSize is the default number of records read per chunk.
const DefaultChunkSize = 1000

// ChunkSource yields whole events by record index. ReadRange returns the
// events in [start, stop) in record order; it may return fewer only when
// the range runs past the end of the data.
type ChunkSource interface {
	TotalCount(ctx context.Context) (int, error)
	ReadRange(ctx context.Context, start, stop int) ([]event.RawEvent, error)
}

// RowSink consumes the rows of one chunk, in run order.
type RowSink func(ctx context.Context, rows []FlatRow) error

// Range is a half-open record range [Start, End).
type Range struct {
	Start, End int
}

// Ranges splits [0, total) into consecutive ranges of at most chunkSize.
func Ranges(total, chunkSize int) []Range {
	if chunkSize <= 0 || total <= 0 {
		return nil
	}
	out := make([]Range, 0, (total+chunkSize-1)/chunkSize)
	for start := 0; start < total; start += chunkSize {
		out = append(out, Range{Start: start, End: min(start+chunkSize, total)})
	}
	return out
}

// EffectiveTotal applies the fulfill fraction (truncating) and the optional
// hard stop limit to the source's record count. fulfill <= 0 means 1;
// stop <= 0 means no limit.
func EffectiveTotal(total int, fulfill float64, stop int) int {
	n := total
	if fulfill > 0 && fulfill < 1 {
		n = int(float64(total) * fulfill)
	}
	if stop > 0 && stop < n {
		n = stop
	}
	return n
}

// RunStats summarises a completed (or aborted) run.
type RunStats struct {
	Chunks      int
	Events      int
	Reduced     int
	Rows        int
	Skipped     map[SkipReason]int
	FinalOffset int
	Elapsed     time.Duration
}

func (s *RunStats) add(c ChunkStats) {
	s.Chunks++
	s.Events += c.Events
	s.Reduced += c.Reduced
	s.Rows += c.Rows
	for r, n := range c.Skipped {
		s.Skipped[r] += n
	}
}

// Driver walks a ChunkSource chunk by chunk. The running event-id offset
// lives only inside Stream and advances between chunks.
type Driver struct {
	Source    ChunkSource
	Processor *ChunkProcessor
	ChunkSize int
	Clock     timeutil.Clock
	Progress  *monitoring.Progress // optional
}

// NewDriver returns a Driver with a real clock and no progress reporter.
func NewDriver(src ChunkSource, p *ChunkProcessor, chunkSize int) *Driver {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Driver{Source: src, Processor: p, ChunkSize: chunkSize, Clock: timeutil.RealClock{}}
}

// Stream processes records [0, total) and hands each chunk's rows to sink.
// It stops at the first source, sink or invariant error.
func (d *Driver) Stream(ctx context.Context, total int, sink RowSink) (stats RunStats, err error) {
	clock := d.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	started := clock.Now()
	defer func() { stats.Elapsed = clock.Since(started) }()
	stats = RunStats{Skipped: make(map[SkipReason]int)}
	offset := 0

	ranges := Ranges(total, d.ChunkSize)
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		events, err := d.Source.ReadRange(ctx, r.Start, r.End)
		if err != nil {
			return stats, fmt.Errorf("reading records [%d, %d): %w", r.Start, r.End, err)
		}
		want := r.End - r.Start
		last := i == len(ranges)-1
		if len(events) > want || (len(events) < want && !last) {
			ie := newInvariantError(InvariantChunkSize, offset,
				"requested %d events for [%d, %d), got %d", want, r.Start, r.End, len(events))
			ie.ChunkStart = r.Start
			return stats, ie
		}

		res, err := d.Processor.Process(ctx, events, offset)
		if err != nil {
			var ie *InvariantError
			if errors.As(err, &ie) && ie.ChunkStart < 0 {
				ie.ChunkStart = r.Start
			}
			return stats, err
		}
		if res.NextOffset < offset {
			ie := newInvariantError(InvariantOffset, offset, "next offset %d after offset %d", res.NextOffset, offset)
			ie.ChunkStart = r.Start
			return stats, ie
		}

		if len(res.Rows) > 0 {
			if err := sink(ctx, res.Rows); err != nil {
				return stats, fmt.Errorf("writing rows for records [%d, %d): %w", r.Start, r.End, err)
			}
		}

		offset = res.NextOffset
		stats.add(res.Stats)
		stats.FinalOffset = offset
		monitoring.Debugf("[reduce] chunk [%d, %d): %d events, %d reduced, %d rows, next offset %d",
			r.Start, r.End, res.Stats.Events, res.Stats.Reduced, res.Stats.Rows, offset)
		if d.Progress != nil {
			d.Progress.Report(r.End, total, stats.Rows)
		}
	}

	return stats, nil
}

// Run processes records [0, total) and returns every row, concatenated in
// run order.
func (d *Driver) Run(ctx context.Context, total int) ([]FlatRow, RunStats, error) {
	var rows []FlatRow
	stats, err := d.Stream(ctx, total, func(_ context.Context, chunk []FlatRow) error {
		rows = append(rows, chunk...)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return rows, stats, nil
}
