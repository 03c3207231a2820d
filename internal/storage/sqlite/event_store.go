package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/htpc-reduce/internal/event"
)

// EventStore reads and writes raw events in htpc_events and htpc_steps.
// Record index n is the n-th event in event_index order.
type EventStore struct {
	db *sql.DB

	// cursor lets a sequential reader resume after the last event_index
	// returned instead of re-walking the table with OFFSET.
	mu     sync.Mutex
	cursor readCursor
}

type readCursor struct {
	valid     bool
	next      int // record index following the last read
	lastIndex int // event_index of the last event returned
}

// NewEventStore creates a new EventStore.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// TotalCount returns the number of stored events.
func (s *EventStore) TotalCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM htpc_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ReadRange returns the events with record index in [start, stop), with
// their steps in step order. A read starting where the previous one
// stopped seeks by event_index; any other start falls back to OFFSET.
func (s *EventStore) ReadRange(ctx context.Context, start, stop int) ([]event.RawEvent, error) {
	if stop <= start {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rows *sql.Rows
		err  error
	)
	if s.cursor.valid && s.cursor.next == start {
		rows, err = s.db.QueryContext(ctx, `
			SELECT event_index, nsteps, etot, xp_pri, yp_pri, zp_pri
			FROM htpc_events
			WHERE event_index > ?
			ORDER BY event_index
			LIMIT ?`, s.cursor.lastIndex, stop-start)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT event_index, nsteps, etot, xp_pri, yp_pri, zp_pri
			FROM htpc_events
			ORDER BY event_index
			LIMIT ? OFFSET ?`, stop-start, start)
	}
	if err != nil {
		return nil, fmt.Errorf("query events [%d, %d): %w", start, stop, err)
	}

	var events []event.RawEvent
	pos := make(map[int]int)
	for rows.Next() {
		var (
			ev         event.RawEvent
			etot       sql.NullFloat64
			px, py, pz sql.NullFloat64
		)
		if err := rows.Scan(&ev.Index, &ev.SampleCount, &etot, &px, &py, &pz); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if etot.Valid {
			v := etot.Float64
			ev.TotalEnergy = &v
		}
		if px.Valid && py.Valid && pz.Valid {
			ev.Primary = &event.Vec3{X: px.Float64, Y: py.Float64, Z: pz.Float64}
		}
		pos[ev.Index] = len(events)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(events) == 0 {
		s.cursor = readCursor{}
		return nil, nil
	}

	if err := s.loadSteps(ctx, events, pos); err != nil {
		s.cursor = readCursor{}
		return nil, err
	}
	s.cursor = readCursor{valid: true, next: start + len(events), lastIndex: events[len(events)-1].Index}
	return events, nil
}

func (s *EventStore) loadSteps(ctx context.Context, events []event.RawEvent, pos map[int]int) error {
	lo, hi := events[0].Index, events[len(events)-1].Index
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_index, xp, yp, zp, ed, time, type, pre_step_energy
		FROM htpc_steps
		WHERE event_index BETWEEN ? AND ?
		ORDER BY event_index, step_index`, lo, hi)
	if err != nil {
		return fmt.Errorf("query steps for events [%d, %d]: %w", lo, hi, err)
	}
	defer rows.Close()

	missingTime := make(map[int]bool)
	for rows.Next() {
		var (
			idx        int
			x, y, z, e sql.NullFloat64
			tm         sql.NullFloat64
			typ        sql.NullString
			pre        sql.NullFloat64
		)
		if err := rows.Scan(&idx, &x, &y, &z, &e, &tm, &typ, &pre); err != nil {
			return fmt.Errorf("scan step: %w", err)
		}
		i, ok := pos[idx]
		if !ok {
			continue
		}
		ev := &events[i]
		ev.X = append(ev.X, orNaN(x))
		ev.Y = append(ev.Y, orNaN(y))
		ev.Z = append(ev.Z, orNaN(z))
		ev.EnergyDeposit = append(ev.EnergyDeposit, orNaN(e))
		if tm.Valid {
			ev.Time = append(ev.Time, tm.Float64)
		} else {
			missingTime[i] = true
		}
		if typ.Valid && pre.Valid {
			ev.SampleType = append(ev.SampleType, typ.String)
			ev.PreStepEnergy = append(ev.PreStepEnergy, pre.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range missingTime {
		events[i].Time = nil
	}
	return nil
}

// InsertEvents stores events and their steps in one transaction. The
// event's Index is its primary key.
func (s *EventStore) InsertEvents(ctx context.Context, events []event.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	// New rows can shift record indexes under the cursor.
	s.mu.Lock()
	s.cursor = readCursor{}
	s.mu.Unlock()

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin insert events tx: %w", err)
		}
		if err := insertEvents(ctx, tx, events); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit insert events tx: %w", err)
		}
		return nil
	})
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []event.RawEvent) error {
	evStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO htpc_events (event_index, nsteps, etot, xp_pri, yp_pri, zp_pri)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer evStmt.Close()
	stepStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO htpc_steps (event_index, step_index, xp, yp, zp, ed, time, type, pre_step_energy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare step insert: %w", err)
	}
	defer stepStmt.Close()

	for i := range events {
		ev := &events[i]
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", ev.Index, err)
		}
		var etot, px, py, pz interface{}
		if ev.TotalEnergy != nil {
			etot = *ev.TotalEnergy
		}
		if ev.Primary != nil {
			px, py, pz = ev.Primary.X, ev.Primary.Y, ev.Primary.Z
		}
		if _, err := evStmt.ExecContext(ctx, ev.Index, ev.SampleCount, etot, px, py, pz); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Index, err)
		}
		typed := len(ev.SampleType) == ev.SampleCount
		for j := 0; j < ev.SampleCount; j++ {
			var tm, typ, pre interface{}
			if ev.Time != nil {
				tm = ev.Time[j]
			}
			if typed {
				typ, pre = ev.SampleType[j], ev.PreStepEnergy[j]
			}
			if _, err := stepStmt.ExecContext(ctx, ev.Index, j, ev.X[j], ev.Y[j], ev.Z[j], ev.EnergyDeposit[j], tm, typ, pre); err != nil {
				return fmt.Errorf("insert event %d step %d: %w", ev.Index, j, err)
			}
		}
	}
	return nil
}

// orNaN maps NULL back to NaN; SQLite stores NaN as NULL.
func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
