package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/banshee-data/htpc-reduce/internal/db"
	"github.com/banshee-data/htpc-reduce/internal/httputil"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
	"github.com/banshee-data/htpc-reduce/internal/report"
	"github.com/banshee-data/htpc-reduce/internal/security"
	"github.com/banshee-data/htpc-reduce/internal/storage/sqlite"
)

func runInspect(ctx context.Context, args []string) error {
	fs := newFlagSet("inspect", nil)
	dbPath := fs.String("db", "clusters.db", "Database to inspect")
	listen := fs.String("listen", ":8080", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer d.Close()

	h, err := newInspectHandler(d)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              *listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("inspect: serving %s on %s (SQL UI at /debug/tailsql/, report at /report)", *dbPath, *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// newInspectHandler serves the debug pages plus the run list, the HTML
// report and CSV export of cluster runs.
func newInspectHandler(d *db.DB) (http.Handler, error) {
	mux := http.NewServeMux()
	if err := d.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	runs := sqlite.NewRunStore(d.DB, nil)

	// clusterRun resolves ?run=<id>, defaulting to the latest clusters run.
	// It writes the error response itself and returns nil on failure.
	clusterRun := func(w http.ResponseWriter, r *http.Request) *sqlite.Run {
		var (
			run *sqlite.Run
			err error
		)
		if id := r.URL.Query().Get("run"); id != "" {
			run, err = runs.Get(r.Context(), id)
		} else {
			run, err = runs.Latest(r.Context(), sqlite.RunKindClusters)
		}
		if errors.Is(err, sqlite.ErrRunNotFound) {
			httputil.NotFound(w, "no cluster run found")
			return nil
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return nil
		}
		if run.Kind != sqlite.RunKindClusters {
			httputil.NotFound(w, fmt.Sprintf("run %s is a %s run", run.RunID, run.Kind))
			return nil
		}
		return run
	}

	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		list, err := runs.List(r.Context(), 0)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, list)
	})

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		run := clusterRun(w, r)
		if run == nil {
			return
		}
		rows, err := sqlite.NewClusterStore(d.DB, run.RunID).Rows(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		s, err := report.Summarise(fmt.Sprintf("run %s (%s)", run.RunID, run.Source), rows, report.DefaultBins)
		if errors.Is(err, report.ErrNoRows) {
			httputil.NotFound(w, "run has no cluster rows")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		s.Skipped = run.Skipped

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.WriteSummaryHTML(w, s); err != nil {
			monitoring.Logf("inspect: render report: %v", err)
		}
	})

	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		run := clusterRun(w, r)
		if run == nil {
			return
		}
		name := security.SanitizeFilename(fmt.Sprintf("clusters_%s_%s", filepath.Base(run.Source), run.RunID)) + ".csv"
		httputil.Attachment(w, "text/csv", name)
		withGamma := r.URL.Query().Get("gamma") == "1"
		if _, err := sqlite.NewClusterStore(d.DB, run.RunID).ExportCSV(r.Context(), w, withGamma); err != nil {
			monitoring.Logf("inspect: export run %s: %v", run.RunID, err)
		}
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitoring.Debugf("got request %q", r.URL.Path)
		mux.ServeHTTP(w, r)
	}), nil
}
