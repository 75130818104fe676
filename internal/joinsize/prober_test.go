package joinsize

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/rptbench/internal/catalog"
	"github.com/arkilian/rptbench/internal/config"
	"github.com/arkilian/rptbench/internal/enginetest"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/observability"
	"github.com/arkilian/rptbench/internal/results"
	"github.com/arkilian/rptbench/internal/runner"
)

const duckbox = `┌──────────────┐
│ count_star() │
│    int64     │
├──────────────┤
│      5916591 │
└──────────────┘
`

func TestExtractCount(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int64
		ok   bool
	}{
		{"plain", "42\n", 42, true},
		{"duckbox skips type header", duckbox, 5916591, true},
		{"thousands separators", "rows: 1,234,567 total", 1234567, true},
		{"underscore is not a separator", "1_000 6", 6, true},
		{"short group after comma ends the token", "12,5\n", 12, true},
		{"comma between separate numbers", "3,4\n", 3, true},
		{"csv header then row", "count_star(),count\n12,5\n", 12, true},
		{"long group after comma ends the token", "1,2345", 1, true},
		{"leading group too long", "1234,567", 1234, true},
		{"identifier digits skipped", "col1\n17", 17, true},
		{"underscore identifier skipped", "x_12 9", 9, true},
		{"first of several", "3 4 5", 3, true},
		{"trailing comma is not a separator", "8,\n", 8, true},
		{"no integer", "count_star()\nint64\n", 0, false},
		{"empty", "", 0, false},
		{"overflow skipped", "99999999999999999999 7", 7, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractCount(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

type memorySink struct {
	samples []results.JoinSizeSample
}

func (m *memorySink) RecordJoinSize(s results.JoinSizeSample) error {
	m.samples = append(m.samples, s)
	return nil
}

func newFakeRunner(t *testing.T) *runner.Runner {
	t.Helper()
	return runner.New(config.EngineConfig{Bin: enginetest.Engine(t), DB: "test.db"}, nil)
}

func TestProber_RecordsStepsAndContinuesAfterFailures(t *testing.T) {
	sink := &memorySink{}
	stats := observability.NewRunStats()
	p := NewProber(newFakeRunner(t), sink, Options{Mode: "rpt", Timeout: 300 * time.Millisecond}, stats, nil)

	queries := []catalog.Query{
		{ID: "q0", SQL: "SELECT 1"},
		{ID: "q1", SQL: "SELECT 1", Probes: []catalog.Probe{
			{Name: "dim_filtered", SQL: "SELECT ROWS=2,556"},
			{Name: "broken", SQL: "SELECT FAIL"},
			{Name: "no_output", SQL: "SELECT NOINT"},
			{Name: "slow", SQL: "SELECT SLEEP"},
			{Name: "join_final", SQL: "SELECT ROWS=119,269"},
		}},
	}
	require.NoError(t, p.Run(context.Background(), queries))

	require.Len(t, sink.samples, 5, "q0 has no probes and is skipped")
	want := []results.JoinSizeSample{
		{Mode: "rpt", Query: "q1", Step: 1, StepName: "dim_filtered", RowCount: 2556},
		{Mode: "rpt", Query: "q1", Step: 2, StepName: "broken", RowCount: -1},
		{Mode: "rpt", Query: "q1", Step: 3, StepName: "no_output", RowCount: -1},
		{Mode: "rpt", Query: "q1", Step: 4, StepName: "slow", RowCount: -1},
		{Mode: "rpt", Query: "q1", Step: 5, StepName: "join_final", RowCount: 119269},
	}
	assert.Equal(t, want, sink.samples)

	summary := stats.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(2), summary[0].Success)
	assert.Equal(t, int64(1), summary[0].Error)
	assert.Equal(t, int64(1), summary[0].ParseFailure)
	assert.Equal(t, int64(1), summary[0].Timeout)
}

func TestProber_SpawnFailureIsFatal(t *testing.T) {
	r := runner.New(config.EngineConfig{Bin: "/nonexistent/engine", DB: "test.db"}, nil)
	sink := &memorySink{}
	p := NewProber(r, sink, Options{Mode: "m", Timeout: time.Second}, nil, nil)

	err := p.Run(context.Background(), []catalog.Query{
		{ID: "q1", SQL: "x", Probes: []catalog.Probe{{Name: "a", SQL: "SELECT 1"}}},
	})
	require.Error(t, err)
	assert.Equal(t, berrors.ErrCategorySpawn, berrors.GetCategory(err))
	assert.Empty(t, sink.samples)
}

func TestProber_DefaultCatalogToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join_sizes.csv")
	w, err := results.OpenJoinSizeWriter(path)
	require.NoError(t, err)

	q, ok := catalog.Default().Get("q1.1")
	require.True(t, ok)

	p := NewProber(newFakeRunner(t), w, Options{Mode: "baseline", Timeout: 5 * time.Second}, nil, nil)
	require.NoError(t, p.Run(context.Background(), []catalog.Query{q}))
	require.NoError(t, w.Close())

	samples, err := results.ReadJoinSizes(path)
	require.NoError(t, err)
	require.Len(t, samples, len(q.Probes))
	for i, s := range samples {
		assert.Equal(t, i+1, s.Step)
		assert.Equal(t, q.Probes[i].Name, s.StepName)
		// The default fake engine prints 1 for plain SQL.
		assert.Equal(t, int64(1), s.RowCount)
	}
}
