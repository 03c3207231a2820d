package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/htpc-reduce/internal/config"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
	"github.com/banshee-data/htpc-reduce/internal/reduce"
	"github.com/banshee-data/htpc-reduce/internal/scatter"
	"github.com/banshee-data/htpc-reduce/internal/storage/sqlite"
)

func runBackgrounds(ctx context.Context, args []string, stdout io.Writer) error {
	input, rest := splitInput(args)

	fs := newFlagSet("backgrounds", stdout)
	in := fs.String("in", input, "Input events database")
	outPath := fs.String("out", "backgrounds.db", "Output database for scatter rows")
	configPath := fs.String("config", "", "Reduction config JSON (flags override it)")
	chunkSize := fs.Int("chunksize", reduce.DefaultChunkSize, "Records read per chunk")
	// --istop is an exact record count; the last chunk is cut short rather
	// than rounded up to a chunk boundary.
	bstop := fs.Bool("bstop", false, "Enable the --istop record limit")
	istop := fs.Int("istop", -1, "Process exactly this many records when --bstop is set (not rounded to --chunksize)")
	threshold := fs.Float64("threshold", scatter.DefaultMultiSiteThreshold, "z spread above which an event is multi-site")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *in == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}
	if *in == "" {
		return errors.New("an input events database is required")
	}

	cfg := &config.ReduceConfig{}
	if *configPath != "" {
		loaded, err := config.LoadReduceConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["chunksize"] {
		cfg.ChunkSize = chunkSize
	}
	if explicit["threshold"] {
		cfg.MultiSiteThreshold = threshold
	}
	if *bstop && *istop > 0 {
		cfg.Stop = istop
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	inDB, outDB, err := openInputOutput(*in, *outPath)
	if err != nil {
		return err
	}
	defer closeDBs(inDB, outDB)

	src := sqlite.NewEventStore(inDB.DB)
	total, err := src.TotalCount(ctx)
	if err != nil {
		return err
	}
	effective := reduce.EffectiveTotal(total, cfg.GetFulfill(), cfg.GetStop())

	runs := sqlite.NewRunStore(outDB.DB, nil)
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	run := &sqlite.Run{Kind: sqlite.RunKindBackgrounds, Source: *in, ConfigJSON: cfgJSON}
	if err := runs.Start(ctx, run); err != nil {
		return err
	}
	monitoring.Logf("[backgrounds] run %s: %d of %d records, chunk size %d, threshold %g",
		run.RunID, effective, total, cfg.GetChunkSize(), cfg.GetMultiSiteThreshold())

	proc := scatter.NewProcessor(src, cfg.GetChunkSize(), cfg.GetMultiSiteThreshold())
	proc.Progress = monitoring.NewProgress("backgrounds", cfg.GetProgressInterval(), nil)
	store := sqlite.NewScatterStore(outDB.DB, run.RunID)
	stats, runErr := proc.Stream(ctx, effective, store.WriteRows)

	var skipped map[string]int
	if stats.Skipped > 0 {
		skipped = map[string]int{"skipped": stats.Skipped}
	}
	if err := runs.Finish(ctx, run.RunID, sqlite.RunOutcome{
		Events: stats.Events, Reduced: stats.Rows, Rows: stats.Rows, Skipped: skipped, Err: runErr,
	}); err != nil {
		monitoring.Logf("[backgrounds] failed to record run outcome: %v", err)
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", run.RunID, runErr)
	}

	fmt.Fprintf(stdout, "run %s: %d events, %d rows, %d skipped\n", run.RunID, stats.Events, stats.Rows, stats.Skipped)
	return nil
}
