// Package ingest loads raw events from JSON lines into the event store.
//
// Each line is one event using the simulation's branch names:
//
//	{"event_index":0,"nsteps":2,"xp":[0,0],"yp":[0,0],"zp":[0,1],
//	 "ed":[1,1],"time":[0,1],"etot":2,"xp_pri":0,"yp_pri":0,"zp_pri":1}
//
// "type" and "pre_step_energy" are optional per-step columns; "etot" and
// "event_index" are optional scalars. An event missing any of the primary
// coordinates is still imported, with no primary vertex, and is skipped at
// reduction time.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/htpc-reduce/internal/event"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
)

// DefaultBatchSize is the number of events inserted per transaction.
const DefaultBatchSize = 500

type jsonEvent struct {
	EventIndex    *int      `json:"event_index,omitempty"`
	NSteps        int       `json:"nsteps"`
	X             []float64 `json:"xp"`
	Y             []float64 `json:"yp"`
	Z             []float64 `json:"zp"`
	EnergyDeposit []float64 `json:"ed"`
	Time          []float64 `json:"time,omitempty"`
	Type          []string  `json:"type,omitempty"`
	PreStepEnergy []float64 `json:"pre_step_energy,omitempty"`
	TotalEnergy   *float64  `json:"etot,omitempty"`
	PrimaryX      *float64  `json:"xp_pri"`
	PrimaryY      *float64  `json:"yp_pri"`
	PrimaryZ      *float64  `json:"zp_pri"`
}

func (j *jsonEvent) toRawEvent(ordinal int) event.RawEvent {
	idx := ordinal
	if j.EventIndex != nil {
		idx = *j.EventIndex
	}
	return event.RawEvent{
		Index:         idx,
		SampleCount:   j.NSteps,
		X:             j.X,
		Y:             j.Y,
		Z:             j.Z,
		EnergyDeposit: j.EnergyDeposit,
		Time:          j.Time,
		SampleType:    j.Type,
		PreStepEnergy: j.PreStepEnergy,
		Primary:       j.primary(),
		TotalEnergy:   j.TotalEnergy,
	}
}

// primary returns nil unless all three primary coordinates are present.
func (j *jsonEvent) primary() *event.Vec3 {
	if j.PrimaryX == nil || j.PrimaryY == nil || j.PrimaryZ == nil {
		return nil
	}
	return &event.Vec3{X: *j.PrimaryX, Y: *j.PrimaryY, Z: *j.PrimaryZ}
}

// ReadJSONLines decodes events from r and calls fn for each in order.
// Events without an event_index take their zero-based position in the
// stream. Decoding stops at the first malformed event or fn error.
func ReadJSONLines(r io.Reader, fn func(event.RawEvent) error) (int, error) {
	dec := json.NewDecoder(r)
	n := 0
	for {
		var je jsonEvent
		if err := dec.Decode(&je); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("decode event %d: %w", n, err)
		}
		ev := je.toRawEvent(n)
		if err := ev.Validate(); err != nil {
			return n, fmt.Errorf("event %d: %w", n, err)
		}
		if err := fn(ev); err != nil {
			return n, err
		}
		n++
	}
}

// EventWriter stores batches of events.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []event.RawEvent) error
}

// Import reads every event from r and writes them to w in batches of
// batchSize. It returns the number of events written.
func Import(ctx context.Context, r io.Reader, w EventWriter, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batch := make([]event.RawEvent, 0, batchSize)
	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.InsertEvents(ctx, batch); err != nil {
			return fmt.Errorf("insert events %d-%d: %w", written, written+len(batch)-1, err)
		}
		written += len(batch)
		monitoring.Debugf("[ingest] %d events written", written)
		batch = batch[:0]
		return nil
	}

	_, err := ReadJSONLines(r, func(ev event.RawEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, ev)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
