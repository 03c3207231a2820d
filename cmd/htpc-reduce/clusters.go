package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/htpc-reduce/internal/config"
	"github.com/banshee-data/htpc-reduce/internal/db"
	"github.com/banshee-data/htpc-reduce/internal/fsutil"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
	"github.com/banshee-data/htpc-reduce/internal/reduce"
	"github.com/banshee-data/htpc-reduce/internal/report"
	"github.com/banshee-data/htpc-reduce/internal/security"
	"github.com/banshee-data/htpc-reduce/internal/storage/sqlite"
)

// clusterOptions are the clusters subcommand's settings after flags have
// been applied over the config file.
type clusterOptions struct {
	input string
	out   string
	cfg   *config.ReduceConfig

	csvPath  string
	plotPath string
	htmlPath string
	bins     int
	debug    bool
}

func parseClusterFlags(args []string, out io.Writer) (*clusterOptions, error) {
	input, rest := splitInput(args)

	fs := newFlagSet("clusters", out)
	in := fs.String("in", input, "Input events database")
	outPath := fs.String("out", "clusters.db", "Output database for cluster rows")
	configPath := fs.String("config", "", "Reduction config JSON (flags override it)")
	chunkSize := fs.Int("chunksize", reduce.DefaultChunkSize, "Records read per chunk")
	scale := fs.Float64("scale", 10, "Distance threshold separating clusters")
	fulfill := fs.Float64("fulfill", 1.0, "Fraction of records to process")
	istop := fs.Int("istop", -1, "Process exactly this many records, not rounded to --chunksize (-1 for all)")
	metric := fs.String("metric", "axis", "Distance metric: axis or euclidean")
	axis := fs.String("axis", "z", "Axis for the axis metric: x, y or z")
	gamma := fs.Bool("gamma", false, "Require and record the first gamma pre-step energy")
	workers := fs.Int("workers", 1, "Concurrent event reductions per chunk")
	csvPath := fs.String("csv", "", "Also export the rows as CSV")
	plotPath := fs.String("plot", "", "Write a PNG cluster energy histogram")
	htmlPath := fs.String("html", "", "Write an HTML run summary")
	bins := fs.Int("bins", report.DefaultBins, "Energy histogram bins")
	debug := fs.Bool("debug", false, "Log per-chunk and per-event detail")
	if err := fs.Parse(rest); err != nil {
		return nil, err
	}
	if *in == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}
	if *in == "" {
		return nil, errors.New("an input events database is required")
	}

	cfg := &config.ReduceConfig{}
	if *configPath != "" {
		loaded, err := config.LoadReduceConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "chunksize":
			cfg.ChunkSize = chunkSize
		case "scale":
			cfg.Scale = scale
		case "fulfill":
			cfg.Fulfill = fulfill
		case "istop":
			stop := max(*istop, 0)
			cfg.Stop = &stop
		case "metric":
			cfg.Metric = metric
		case "axis":
			cfg.Axis = axis
		case "gamma":
			cfg.RequireGamma = gamma
		case "workers":
			cfg.Workers = workers
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, p := range []string{*csvPath, *plotPath, *htmlPath} {
		if p == "" {
			continue
		}
		if err := security.ValidateExportPath(p); err != nil {
			return nil, err
		}
	}

	return &clusterOptions{
		input:    *in,
		out:      *outPath,
		cfg:      cfg,
		csvPath:  *csvPath,
		plotPath: *plotPath,
		htmlPath: *htmlPath,
		bins:     *bins,
		debug:    *debug,
	}, nil
}

func runClusters(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseClusterFlags(args, stdout)
	if err != nil {
		return err
	}
	monitoring.EnableDebug(opts.debug)
	cfg := opts.cfg

	metric, err := cfg.BuildMetric()
	if err != nil {
		return err
	}

	inDB, outDB, err := openInputOutput(opts.input, opts.out)
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
	run := &sqlite.Run{Kind: sqlite.RunKindClusters, Source: opts.input, ConfigJSON: cfgJSON}
	if err := runs.Start(ctx, run); err != nil {
		return err
	}
	monitoring.Logf("[clusters] run %s: %d of %d records, chunk size %d, scale %g, metric %s",
		run.RunID, effective, total, cfg.GetChunkSize(), cfg.GetScale(), metric.Name())

	reducer := reduce.NewReducer(cfg.GetScale(), metric, cfg.GetRequireGamma())
	driver := reduce.NewDriver(src, reduce.NewChunkProcessor(reducer, cfg.GetWorkers()), cfg.GetChunkSize())
	driver.Progress = monitoring.NewProgress("clusters", cfg.GetProgressInterval(), nil)

	store := sqlite.NewClusterStore(outDB.DB, run.RunID)
	stats, runErr := driver.Stream(ctx, effective, store.WriteRows)

	skipped := skipNames(stats.Skipped)
	if err := runs.Finish(ctx, run.RunID, sqlite.RunOutcome{
		Events: stats.Events, Reduced: stats.Reduced, Rows: stats.Rows, Skipped: skipped, Err: runErr,
	}); err != nil {
		monitoring.Logf("[clusters] failed to record run outcome: %v", err)
	}
	if runErr != nil {
		var ie *reduce.InvariantError
		if errors.As(runErr, &ie) {
			return fmt.Errorf("run %s aborted: %w", run.RunID, ie)
		}
		return fmt.Errorf("run %s: %w", run.RunID, runErr)
	}

	fmt.Fprintf(stdout, "run %s: %d events, %d reduced, %d skipped, %d rows, next event id %d (%s)\n",
		run.RunID, stats.Events, stats.Reduced, stats.Events-stats.Reduced, stats.Rows, stats.FinalOffset,
		stats.Elapsed.Round(time.Millisecond))
	for _, reason := range sortedKeys(skipped) {
		fmt.Fprintf(stdout, "  skipped %-10s %d\n", reason, skipped[reason])
	}

	return writeClusterOutputs(ctx, opts, store, run.RunID, skipped)
}

func writeClusterOutputs(ctx context.Context, opts *clusterOptions, store *sqlite.ClusterStore, runID string, skipped map[string]int) error {
	if opts.csvPath == "" && opts.plotPath == "" && opts.htmlPath == "" {
		return nil
	}
	fsys := fsutil.OSFileSystem{}

	if opts.csvPath != "" {
		f, err := fsys.Create(opts.csvPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", opts.csvPath, err)
		}
		n, err := store.ExportCSV(ctx, f, opts.cfg.GetRequireGamma())
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", opts.csvPath, err)
		}
		monitoring.Logf("[clusters] wrote %d rows to %s", n, opts.csvPath)
	}

	if opts.plotPath == "" && opts.htmlPath == "" {
		return nil
	}
	rows, err := store.Rows(ctx)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s (run %s)", filepath.Base(opts.input), runID)
	if opts.plotPath != "" {
		if err := report.WriteEnergyHistogram(fsys, opts.plotPath, title, rows, opts.bins); err != nil {
			return fmt.Errorf("energy histogram: %w", err)
		}
	}
	if opts.htmlPath != "" {
		s, err := report.Summarise(title, rows, opts.bins)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		s.Skipped = skipped
		f, err := fsys.Create(opts.htmlPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", opts.htmlPath, err)
		}
		err = report.WriteSummaryHTML(f, s)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// openInputOutput opens the events database and the output database,
// sharing one handle when they are the same file.
func openInputOutput(input, output string) (*db.DB, *db.DB, error) {
	if !(fsutil.OSFileSystem{}).Exists(input) {
		return nil, nil, fmt.Errorf("input %s does not exist", input)
	}
	inDB, err := db.Open(input)
	if err != nil {
		return nil, nil, err
	}
	if filepath.Clean(input) == filepath.Clean(output) {
		return inDB, inDB, nil
	}
	outDB, err := db.Open(output)
	if err != nil {
		inDB.Close()
		return nil, nil, err
	}
	return inDB, outDB, nil
}

func closeDBs(in, out *db.DB) {
	if out != in {
		out.Close()
	}
	in.Close()
}

func skipNames(counts map[reduce.SkipReason]int) map[string]int {
	out := make(map[string]int, len(counts))
	for r, n := range counts {
		out[r.String()] = n
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
