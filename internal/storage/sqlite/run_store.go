package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/htpc-reduce/internal/timeutil"
)

// Run kinds and statuses recorded in the runs table.
const (
	RunKindClusters    = "clusters"
	RunKindBackgrounds = "backgrounds"

	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one reduction run and its outcome.
type Run struct {
	RunID      string          `json:"run_id"`
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	Status     string          `json:"status"`
	Events     int             `json:"events"`
	Reduced    int             `json:"reduced"`
	Rows       int             `json:"rows"`
	Skipped    map[string]int  `json:"skipped,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"`
}

// RunOutcome is what Finish records about a run.
type RunOutcome struct {
	Events  int
	Reduced int
	Rows    int
	Skipped map[string]int
	Err     error
}

// RunStore records runs in the runs table.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a new RunStore. A nil clock uses the real clock.
func NewRunStore(db *sql.DB, clock timeutil.Clock) *RunStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunStore{db: db, clock: clock}
}

// Start inserts run with status running. If RunID is empty, a UUID is generated.
func (s *RunStore) Start(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	run.Status = RunStatusRunning
	run.StartedAt = s.clock.Now().UnixNano()
	cfg := "{}"
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, kind, source, config_json, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Kind, run.Source, cfg, run.Status, run.StartedAt)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// Finish records the outcome of a run. A non-nil out.Err marks it failed.
func (s *RunStore) Finish(ctx context.Context, runID string, out RunOutcome) error {
	status, errText := RunStatusCompleted, ""
	if out.Err != nil {
		status, errText = RunStatusFailed, out.Err.Error()
	}
	var skipped interface{}
	if len(out.Skipped) > 0 {
		b, err := json.Marshal(out.Skipped)
		if err != nil {
			return fmt.Errorf("marshal skipped counts: %w", err)
		}
		skipped = string(b)
	}

	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, events = ?, reduced = ?, rows_written = ?,
			    skipped_json = ?, error = ?, finished_at = ?
			WHERE run_id = ?`,
			status, out.Events, out.Reduced, out.Rows, skipped, errText, s.clock.Now().UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("update run %s: %w", runID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
		}
		return nil
	})
}

// Get returns a single run by id.
func (s *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, kind, source, config_json, status, events, reduced, rows_written,
		       skipped_json, error, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// List returns up to limit runs, most recent first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, kind, source, config_json, status, events, reduced, rows_written,
		       skipped_json, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Latest returns the most recent run of the given kind.
func (s *RunStore) Latest(ctx context.Context, kind string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, kind, source, config_json, status, events, reduced, rows_written,
		       skipped_json, error, started_at, finished_at
		FROM runs WHERE kind = ? ORDER BY started_at DESC LIMIT 1`, kind)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r        Run
		cfg      string
		skipped  sql.NullString
		errText  sql.NullString
		finished sql.NullInt64
	)
	if err := sc.Scan(&r.RunID, &r.Kind, &r.Source, &cfg, &r.Status, &r.Events, &r.Reduced, &r.Rows,
		&skipped, &errText, &r.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.ConfigJSON = json.RawMessage(cfg)
	r.Error = errText.String
	r.FinishedAt = finished.Int64
	if skipped.Valid && skipped.String != "" {
		if err := json.Unmarshal([]byte(skipped.String), &r.Skipped); err != nil {
			return nil, fmt.Errorf("parse skipped counts for run %s: %w", r.RunID, err)
		}
	}
	return &r, nil
}

// Elapsed returns how long the run took, or zero if it has not finished.
func (r *Run) Elapsed() time.Duration {
	if r.FinishedAt == 0 {
		return 0
	}
	return time.Duration(r.FinishedAt - r.StartedAt)
}
