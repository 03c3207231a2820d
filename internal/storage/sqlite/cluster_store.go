package sqlite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/htpc-reduce/internal/reduce"
)

// ClusterStore persists flattened cluster rows for one run.
type ClusterStore struct {
	db    *sql.DB
	runID string
}

// NewClusterStore creates a ClusterStore writing rows under runID.
func NewClusterStore(db *sql.DB, runID string) *ClusterStore {
	return &ClusterStore{db: db, runID: runID}
}

// WriteRows inserts one chunk of rows in a single transaction. It has the
// reduce.RowSink signature.
func (s *ClusterStore) WriteRows(ctx context.Context, rows []reduce.FlatRow) error {
	if len(rows) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cluster rows tx: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO htpc_clusters (
				run_id, event_id, cluster_index, cluster_count, energy,
				x_mean, y_mean, z_mean, primary_x, primary_y, primary_z,
				primary_gamma_energy
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("prepare cluster insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			var gamma interface{}
			if r.GammaEnergy != nil {
				gamma = *r.GammaEnergy
			}
			if _, err := stmt.ExecContext(ctx, s.runID, r.EventID, r.ClusterIndex, r.ClusterCount, r.Energy,
				r.XMean, r.YMean, r.ZMean, r.Primary.X, r.Primary.Y, r.Primary.Z, gamma); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert cluster row (event %d, cluster %d): %w", r.EventID, r.ClusterIndex, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit cluster rows tx: %w", err)
		}
		return nil
	})
}

// Rows returns every row of the run in event and cluster order.
func (s *ClusterStore) Rows(ctx context.Context) ([]reduce.FlatRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, cluster_index, cluster_count, energy,
		       x_mean, y_mean, z_mean, primary_x, primary_y, primary_z,
		       primary_gamma_energy
		FROM htpc_clusters
		WHERE run_id = ?
		ORDER BY event_id, cluster_index`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query cluster rows: %w", err)
	}
	defer rows.Close()

	var out []reduce.FlatRow
	for rows.Next() {
		var (
			r          reduce.FlatRow
			xm, ym, zm sql.NullFloat64
			gamma      sql.NullFloat64
		)
		if err := rows.Scan(&r.EventID, &r.ClusterIndex, &r.ClusterCount, &r.Energy,
			&xm, &ym, &zm, &r.Primary.X, &r.Primary.Y, &r.Primary.Z, &gamma); err != nil {
			return nil, fmt.Errorf("scan cluster row: %w", err)
		}
		r.XMean, r.YMean, r.ZMean = orNaN(xm), orNaN(ym), orNaN(zm)
		if gamma.Valid {
			v := gamma.Float64
			r.GammaEnergy = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExportCSV writes the run's rows as CSV with a header line. The
// primary_gamma_energy column is included only when withGamma is set.
func (s *ClusterStore) ExportCSV(ctx context.Context, w io.Writer, withGamma bool) (int, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	header := []string{"event_id", "cluster_index", "cluster_count", "energy",
		"x_mean", "y_mean", "z_mean", "primary_x", "primary_y", "primary_z"}
	if withGamma {
		header = append(header, "primary_gamma_energy")
	}
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.EventID),
			strconv.Itoa(r.ClusterIndex),
			strconv.Itoa(r.ClusterCount),
			formatFloat(r.Energy),
			formatFloat(r.XMean),
			formatFloat(r.YMean),
			formatFloat(r.ZMean),
			formatFloat(r.Primary.X),
			formatFloat(r.Primary.Y),
			formatFloat(r.Primary.Z),
		}
		if withGamma {
			g := ""
			if r.GammaEnergy != nil {
				g = formatFloat(*r.GammaEnergy)
			}
			rec = append(rec, g)
		}
		if err := cw.Write(rec); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
