package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/banshee-data/htpc-reduce/internal/db"
)

// setupTestDB opens a migrated database in a temp directory.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.DB
}
