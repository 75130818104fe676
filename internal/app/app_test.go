package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/rptbench/internal/archive"
	"github.com/arkilian/rptbench/internal/config"
	"github.com/arkilian/rptbench/internal/enginetest"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/results"
	"github.com/arkilian/rptbench/internal/storage"
)

const testCatalog = `
name: tiny
queries:
  - id: q1
    sql: SELECT 1
    probes:
      - name: dim
        sql: SELECT ROWS=30
      - name: final
        sql: SELECT ROWS=1,200
  - id: q2
    sql: SELECT 2
  - id: broken
    sql: SELECT FAIL
`

// testConfig points every path into a temporary directory and runs only
// the healthy queries.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0644))

	cfg := config.DefaultConfig()
	cfg.Engine.Bin = enginetest.Engine(t)
	cfg.Engine.DB = filepath.Join(dir, "ssb.duckdb")
	cfg.Run.Mode = "baseline"
	cfg.Run.Reps = 2
	cfg.Run.MemoryReps = 2
	cfg.Run.Queries = []string{"q1", "q2"}
	cfg.Catalog.Path = catalogPath
	cfg.Timeouts.Query = 5 * time.Second
	cfg.Timeouts.Probe = 5 * time.Second
	cfg.Archive.Path = filepath.Join(dir, "archive", "archive.db")
	cfg.Publish.Storage.Path = filepath.Join(dir, "published")
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, kind config.Kind) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, kind, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_TimingRunRecordsEverywhere(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Out = filepath.Join(t.TempDir(), "out", "ssb_baseline.csv")
	cfg.Archive.Enabled = true
	cfg.Publish.Enabled = true

	a := newApp(t, cfg, config.KindTiming)
	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Queries)
	assert.Empty(t, summary.Skipped)
	assert.Equal(t, int64(4), summary.Totals.Success, "warm-ups are not counted")

	samples, err := results.ReadTimings(cfg.Run.Out)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, results.TimingSample{Mode: "baseline", Query: "q1", Rep: 1, Seconds: samples[0].Seconds}, samples[0])
	assert.Equal(t, "q2", samples[3].Query)

	arch, err := archive.Open(cfg.Archive.Path)
	require.NoError(t, err)
	defer arch.Close()
	run, err := arch.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusCompleted, run.Status)
	assert.Equal(t, a.Catalog().Fingerprint(), run.CatalogFingerprint)
	assert.Contains(t, run.HostJSON, `"os"`)
	archived, err := arch.LoadTimings(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Len(t, archived, 4)

	require.Len(t, summary.Published, 1)
	assert.Equal(t, "rptbench/baseline/"+summary.RunID+"/ssb_baseline.csv.sz", summary.Published[0])
	_, err = os.Stat(filepath.Join(cfg.Publish.Storage.Path, filepath.FromSlash(summary.Published[0])))
	assert.NoError(t, err)
}

func TestApp_PublishedRunCanBeFetched(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Out = filepath.Join(t.TempDir(), "results.csv")
	cfg.Publish.Enabled = true

	summary, err := newApp(t, cfg, config.KindTiming).Run(context.Background())
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(cfg.Publish.Storage.Path)
	require.NoError(t, err)
	pub := storage.NewPublisher(store, cfg.Publish.Prefix, nil)

	out := t.TempDir()
	res, err := pub.FetchRun(context.Background(), summary.RunID, "baseline", out)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	original, err := os.ReadFile(cfg.Run.Out)
	require.NoError(t, err)
	fetched, err := os.ReadFile(filepath.Join(out, "results.csv"))
	require.NoError(t, err)
	assert.Equal(t, original, fetched)
}

func TestApp_UnknownQueriesAreSkipped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Out = filepath.Join(t.TempDir(), "results.csv")
	cfg.Run.Reps = 1
	cfg.Run.Queries = []string{"q2", "nope", "q1"}

	summary, err := newApp(t, cfg, config.KindTiming).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, summary.Skipped)

	samples, err := results.ReadTimings(cfg.Run.Out)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "q2", samples[0].Query, "known ids run in the order given")
	assert.Equal(t, "q1", samples[1].Query)
}

func TestApp_FatalTimingErrorFailsArchivedRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Out = filepath.Join(t.TempDir(), "results.csv")
	cfg.Run.Queries = []string{"q2", "broken"}
	cfg.Archive.Enabled = true
	cfg.Publish.Enabled = true

	summary, err := newApp(t, cfg, config.KindTiming).Run(context.Background())
	require.Error(t, err)
	assert.True(t, berrors.IsFatal(err))
	assert.Equal(t, berrors.ErrCategoryExecution, berrors.GetCategory(err))
	require.NotNil(t, summary)
	assert.Empty(t, summary.Published, "failed runs are not published")

	arch, err := archive.Open(cfg.Archive.Path)
	require.NoError(t, err)
	defer arch.Close()
	run, err := arch.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusFailed, run.Status)
	require.NotNil(t, run.FinishedAt)
}

func TestApp_JoinSizeRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Mode = "rpt"
	cfg.Run.Out = ""
	cfg.Run.Queries = nil

	wd := t.TempDir()
	chdir(t, wd)

	a := newApp(t, cfg, config.KindJoinSize)
	assert.Equal(t, "join_sizes.csv", cfg.Run.Out)
	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Queries, "queries without probes are not counted")

	samples, err := results.ReadJoinSizes(filepath.Join(wd, "join_sizes.csv"))
	require.NoError(t, err)
	require.Len(t, samples, 2, "only q1 has probes")
	assert.Equal(t, int64(30), samples[0].RowCount)
	assert.Equal(t, int64(1200), samples[1].RowCount)
	assert.Equal(t, "final", samples[1].StepName)
}

func TestApp_MemoryRunBySampling(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("sampling reads /proc")
	}
	cfg := testConfig(t)
	cfg.Run.Out = filepath.Join(t.TempDir(), "memory_usage.csv")
	cfg.Run.Queries = []string{"q2"}
	cfg.Memory.Strategy = config.MemorySample
	cfg.Memory.SampleInterval = 10 * time.Millisecond

	_, err := newApp(t, cfg, config.KindMemory).Run(context.Background())
	require.NoError(t, err)

	samples, err := results.ReadMemory(cfg.Run.Out)
	require.NoError(t, err)
	require.Len(t, samples, 2, "every rep is recorded, successful or not")
	for i, s := range samples {
		assert.Equal(t, i+1, s.Rep)
		assert.Equal(t, "q2", s.Query)
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Mode = ""
	_, err := New(context.Background(), cfg, config.KindTiming, nil)
	require.Error(t, err)
	assert.Equal(t, berrors.ErrCategoryConfig, berrors.GetCategory(err))

	cfg = testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(context.Background(), cfg, config.KindTiming, nil)
	require.Error(t, err)
	assert.Equal(t, berrors.ErrCategoryCatalog, berrors.GetCategory(err))

	// The output directory cannot be created below a regular file.
	cfg = testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.Run.Out = filepath.Join(blocker, "sub", "results.csv")
	_, err = New(context.Background(), cfg, config.KindTiming, nil)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeDirectory, berrors.GetCode(err))
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "rptbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  mode: baseline\n  reps: 7\nengine:\n  bin: /opt/duckdb\n"), 0644))
	t.Setenv("RPTBENCH_MODE", "rpt")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "rpt", cfg.Run.Mode)
	assert.Equal(t, 7, cfg.Run.Reps)
	assert.Equal(t, "/opt/duckdb", cfg.Engine.Bin)
	assert.Equal(t, 3, cfg.Run.MemoryReps, "defaults survive")

	_, err = LoadConfig(filepath.Join(dir, "absent.yaml"))
	assert.Equal(t, berrors.ErrCategoryConfig, berrors.GetCategory(err))
}

func TestRenderListings(t *testing.T) {
	cat, err := LoadCatalog(config.CatalogConfig{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderCatalog(&buf, cat))
	out := buf.String()
	assert.Contains(t, out, "13 queries")
	assert.Contains(t, out, cat.Fingerprint())
	assert.Contains(t, out, "q4.3")

	buf.Reset()
	require.NoError(t, RenderHistory(&buf, nil))
	assert.Equal(t, "No archived runs.\n", buf.String())

	finished := time.Date(2026, 3, 1, 12, 0, 1, 500e6, time.UTC)
	buf.Reset()
	require.NoError(t, RenderHistory(&buf, []archive.Run{{
		ID:         "0123456789abcdef",
		Kind:       "timing",
		Mode:       "rpt",
		StartedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Reps:       5,
		Status:     archive.StatusCompleted,
	}}))
	out = buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "completed")
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory and restores it when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
