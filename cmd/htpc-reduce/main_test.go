package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/htpc-reduce/internal/db"
	"github.com/banshee-data/htpc-reduce/internal/monitoring"
	"github.com/banshee-data/htpc-reduce/internal/storage/sqlite"
	"github.com/banshee-data/htpc-reduce/internal/testutil"
)

// Event 0 has two clusters, event 1 deposits nothing, event 2 has one
// gamma-tagged cluster.
const testEvents = `{"nsteps":5,"xp":[0,0,0,0,0],"yp":[0,0,0,0,0],"zp":[0,1,2,20,21],"ed":[1,1,1,1,1],"etot":5,"xp_pri":0,"yp_pri":0,"zp_pri":1}
{"nsteps":2,"xp":[0,0],"yp":[0,0],"zp":[0,1],"ed":[0,0],"etot":1,"xp_pri":0,"yp_pri":0,"zp_pri":1}
{"nsteps":2,"xp":[1,1],"yp":[2,2],"zp":[3,4],"ed":[2,2],"type":["e-","gamma"],"pre_step_energy":[0.5,661.7],"etot":4,"xp_pri":1,"yp_pri":2,"zp_pri":3}
`

func quietLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	monitoring.SetLogger(nil)
}

func importTestEvents(t *testing.T, dir string) string {
	t.Helper()
	jsonl := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(jsonl, []byte(testEvents), 0644))
	dbPath := filepath.Join(dir, "events.db")

	var out bytes.Buffer
	require.NoError(t, runImport(context.Background(), []string{jsonl, "--db", dbPath}, &out))
	assert.Contains(t, out.String(), "imported 3 events")
	return dbPath
}

func TestClustersEndToEnd(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	events := importTestEvents(t, dir)
	outDB := filepath.Join(dir, "clusters.db")
	csvPath := filepath.Join(dir, "clusters.csv")
	plotPath := filepath.Join(dir, "plots", "energy.png")
	htmlPath := filepath.Join(dir, "summary.html")

	var out bytes.Buffer
	err := runClusters(context.Background(), []string{events,
		"--chunksize", "1", "--out", outDB, "--workers", "2",
		"--csv", csvPath, "--plot", plotPath, "--html", htmlPath}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "3 events, 2 reduced, 1 skipped, 3 rows, next event id 2")
	assert.Contains(t, out.String(), "skipped empty")

	csvData, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "0,0,2,3,"))
	assert.True(t, strings.HasPrefix(lines[2], "0,1,2,2,"))
	assert.True(t, strings.HasPrefix(lines[3], "1,0,1,4,"))

	png, err := os.ReadFile(plotPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Clusters per event")

	d, err := db.Open(outDB)
	require.NoError(t, err)
	defer d.Close()
	run, err := sqlite.NewRunStore(d.DB, nil).Latest(context.Background(), sqlite.RunKindClusters)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusCompleted, run.Status)
	assert.Equal(t, map[string]int{"empty": 1}, run.Skipped)
	assert.Contains(t, string(run.ConfigJSON), `"chunk_size":1`)
}

func TestClustersGammaAndStop(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	events := importTestEvents(t, dir)
	outDB := filepath.Join(dir, "gamma.db")
	csvPath := filepath.Join(dir, "gamma.csv")

	var out bytes.Buffer
	err := runClusters(context.Background(), []string{events, "--gamma", "--out", outDB, "--csv", csvPath}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "3 events, 1 reduced")

	csvData, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "primary_gamma_energy"))
	assert.True(t, strings.HasSuffix(lines[1], ",661.7"))

	out.Reset()
	err = runClusters(context.Background(), []string{events, "--istop", "1", "--out", outDB}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1 events, 1 reduced")
}

func TestClustersSameInputAndOutput(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	events := importTestEvents(t, dir)

	var out bytes.Buffer
	require.NoError(t, runClusters(context.Background(), []string{events, "--out", events}, &out))
	assert.Contains(t, out.String(), "3 rows")
}

func TestClustersSkipsMissingPrimary(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	jsonl := filepath.Join(dir, "partial.jsonl")
	lines := `{"nsteps":1,"xp":[0],"yp":[0],"zp":[5],"ed":[1]}
{"nsteps":1,"xp":[0],"yp":[0],"zp":[5],"ed":[1],"xp_pri":0,"yp_pri":0,"zp_pri":0}
`
	require.NoError(t, os.WriteFile(jsonl, []byte(lines), 0644))
	events := filepath.Join(dir, "events.db")
	var out bytes.Buffer
	require.NoError(t, runImport(context.Background(), []string{jsonl, "--db", events}, &out))

	out.Reset()
	require.NoError(t, runClusters(context.Background(), []string{events, "--out", filepath.Join(dir, "c.db")}, &out))
	assert.Contains(t, out.String(), "2 events, 1 reduced, 1 skipped, 1 rows")
	assert.Contains(t, out.String(), "skipped missing_field")
}

func TestClustersErrors(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	var out bytes.Buffer

	err := runClusters(context.Background(), nil, &out)
	assert.Error(t, err, "missing input")

	err = runClusters(context.Background(), []string{filepath.Join(dir, "missing.db")}, &out)
	assert.ErrorContains(t, err, "does not exist")

	events := importTestEvents(t, dir)
	err = runClusters(context.Background(), []string{events, "--scale", "0"}, &out)
	assert.ErrorContains(t, err, "scale")

	err = runClusters(context.Background(), []string{events, "--metric", "manhattan"}, &out)
	assert.ErrorContains(t, err, "manhattan")

	err = runClusters(context.Background(), []string{events, "--csv", "/proc/self/clusters.csv"}, &out)
	assert.ErrorContains(t, err, "export path")

	cfgPath := filepath.Join(dir, "reduce.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"chunk_size": 2, "scale": 100}`), 0644))
	opts, err := parseClusterFlags([]string{events, "--config", cfgPath, "--scale", "5"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, opts.cfg.GetChunkSize(), "config value kept")
	assert.Equal(t, 5.0, opts.cfg.GetScale(), "flag overrides config")
}

func TestBackgroundsEndToEnd(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	events := importTestEvents(t, dir)
	outDB := filepath.Join(dir, "bg.db")

	var out bytes.Buffer
	require.NoError(t, runBackgrounds(context.Background(), []string{events, "--out", outDB, "--chunksize", "2"}, &out))
	assert.Contains(t, out.String(), "3 events, 2 rows, 1 skipped")

	d, err := db.Open(outDB)
	require.NoError(t, err)
	defer d.Close()
	run, err := sqlite.NewRunStore(d.DB, nil).Latest(context.Background(), sqlite.RunKindBackgrounds)
	require.NoError(t, err)
	rows, err := sqlite.NewScatterStore(d.DB, run.RunID).Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].MultiSite, "z spread 21 exceeds 10")
	assert.False(t, rows[1].MultiSite)
	assert.Equal(t, 2, rows[1].SourceIndex)

	out.Reset()
	require.NoError(t, runBackgrounds(context.Background(), []string{events, "--out", outDB, "--chunksize", "2", "--bstop", "--istop", "1"}, &out))
	assert.Contains(t, out.String(), "1 events, 1 rows", "limit is exact, not rounded to the chunk size")
}

func TestImportErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runImport(context.Background(), nil, &out))
	assert.Error(t, runImport(context.Background(), []string{filepath.Join(t.TempDir(), "missing.jsonl")}, &out))
}

func TestInspectHandler(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	events := importTestEvents(t, dir)
	outDB := filepath.Join(dir, "clusters.db")

	d, err := db.Open(outDB)
	require.NoError(t, err)
	defer d.Close()
	h, err := newInspectHandler(d)
	require.NoError(t, err)

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/report"))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	var out bytes.Buffer
	require.NoError(t, runClusters(context.Background(), []string{events, "--out", outDB}, &out))

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/report"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "Cluster energy")

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/report?run=nope"))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/runs"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"kind":"clusters"`)

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/export"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "clusters_events.db_")
	assert.True(t, strings.HasPrefix(w.Body.String(), "event_id,cluster_index"))

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodPost, "/runs"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestSplitInput(t *testing.T) {
	in, rest := splitInput([]string{"events.db", "--scale", "5"})
	assert.Equal(t, "events.db", in)
	assert.Equal(t, []string{"--scale", "5"}, rest)

	in, rest = splitInput([]string{"--scale", "5"})
	assert.Equal(t, "", in)
	assert.Len(t, rest, 2)
}
