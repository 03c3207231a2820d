package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/htpc-reduce/internal/db"
	"github.com/banshee-data/htpc-reduce/internal/ingest"
	"github.com/banshee-data/htpc-reduce/internal/storage/sqlite"
)

func runImport(ctx context.Context, args []string, stdout io.Writer) error {
	input, rest := splitInput(args)

	fs := newFlagSet("import", stdout)
	in := fs.String("in", input, "JSON-lines events file")
	dbPath := fs.String("db", "events.db", "Events database to append to")
	batch := fs.Int("batch", ingest.DefaultBatchSize, "Events per insert transaction")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *in == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}
	if *in == "" {
		return errors.New("an input JSON-lines file is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer d.Close()

	n, err := ingest.Import(ctx, f, sqlite.NewEventStore(d.DB), *batch)
	if err != nil {
		return fmt.Errorf("import %s after %d events: %w", *in, n, err)
	}
	fmt.Fprintf(stdout, "imported %d events into %s\n", n, *dbPath)
	return nil
}
