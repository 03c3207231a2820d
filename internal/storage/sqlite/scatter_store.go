package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/htpc-reduce/internal/scatter"
)

// ScatterStore persists background-scatter rows for one run.
type ScatterStore struct {
	db    *sql.DB
	runID string
}

// NewScatterStore creates a ScatterStore writing rows under runID.
func NewScatterStore(db *sql.DB, runID string) *ScatterStore {
	return &ScatterStore{db: db, runID: runID}
}

// WriteRows inserts one chunk of scatter rows in a single transaction.
func (s *ScatterStore) WriteRows(ctx context.Context, rows []scatter.Row) error {
	if len(rows) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin scatter rows tx: %w", err)
		}
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO htpc_scatters (run_id, event_id, source_index, xpos, ypos, zpos, escatter, multisite)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				s.runID, r.EventID, r.SourceIndex, r.XPos, r.YPos, r.ZPos, r.EScatter, r.MultiSite); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert scatter row %d: %w", r.EventID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit scatter rows tx: %w", err)
		}
		return nil
	})
}

// Rows returns the run's scatter rows in event order. NULL positions
// read back as NaN.
func (s *ScatterStore) Rows(ctx context.Context) ([]scatter.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, source_index, xpos, ypos, zpos, escatter, multisite
		FROM htpc_scatters
		WHERE run_id = ?
		ORDER BY event_id`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query scatter rows: %w", err)
	}
	defer rows.Close()

	var out []scatter.Row
	for rows.Next() {
		var (
			r          scatter.Row
			xp, yp, zp sql.NullFloat64
		)
		if err := rows.Scan(&r.EventID, &r.SourceIndex, &xp, &yp, &zp, &r.EScatter, &r.MultiSite); err != nil {
			return nil, fmt.Errorf("scan scatter row: %w", err)
		}
		r.XPos, r.YPos, r.ZPos = orNaN(xp), orNaN(yp), orNaN(zp)
		out = append(out, r)
	}
	return out, rows.Err()
}
