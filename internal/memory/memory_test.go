package memory

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
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

const gnuTimeReport = `	Command being timed: "duckdb db/ssb.duckdb -c SELECT 1"
	User time (seconds): 0.02
	System time (seconds): 0.01
	Percent of CPU this job got: 95%
	Elapsed (wall clock) time (h:mm:ss or m:ss): 0:00.03
	Average shared text size (kbytes): 0
	Maximum resident set size (kbytes): 123456
	Average resident set size (kbytes): 0
	Exit status: 0
`

// fakeTime mimics `time -v <cmd...>`: it runs the command, then reports a
// fixed peak unless report is empty.
func fakeTime(t *testing.T, report string) string {
	body := `[ "$1" = "-v" ] && shift
"$@"
status=$?
`
	if report != "" {
		body += "echo '" + report + "' >&2\n"
	}
	body += "exit $status\n"
	return enginetest.Write(t, "time", body)
}

func testEngine(t *testing.T) *runner.Runner {
	t.Helper()
	return runner.New(config.EngineConfig{Bin: enginetest.Engine(t), DB: "test.db"}, nil)
}

func TestParseMaxRSS(t *testing.T) {
	kb, ok := ParseMaxRSS(gnuTimeReport)
	require.True(t, ok)
	assert.Equal(t, int64(123456), kb)

	// Leading word is matched case-insensitively.
	kb, ok = ParseMaxRSS("maximum resident set size (kbytes): 42")
	require.True(t, ok)
	assert.Equal(t, int64(42), kb)

	_, ok = ParseMaxRSS("Command exited with non-zero status 1\n")
	assert.False(t, ok)

	// The number must be on the same line.
	_, ok = ParseMaxRSS("Maximum resident set size (kbytes):\n12\n")
	assert.False(t, ok)
}

func TestParseVmRSS(t *testing.T) {
	status := []byte("Name:\tduckdb\nState:\tR (running)\nVmPeak:\t  900 kB\nVmRSS:\t   2048 kB\nThreads:\t4\n")
	kb, ok := ParseVmRSS(status)
	require.True(t, ok)
	assert.Equal(t, int64(2048), kb)

	_, ok = ParseVmRSS([]byte("Name:\tduckdb\nState:\tZ (zombie)\n"))
	assert.False(t, ok)
}

func TestTimeMeasurer_Success(t *testing.T) {
	m := NewTimeMeasurer(testEngine(t), fakeTime(t, "Maximum resident set size (kbytes): 2048"), 5*time.Second, nil)
	assert.Equal(t, "time", m.Name())

	got, err := m.Measure(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.True(t, got.OK())
	assert.Equal(t, int64(2048*1024), got.PeakBytes)
}

func TestTimeMeasurer_ParseFailure(t *testing.T) {
	m := NewTimeMeasurer(testEngine(t), fakeTime(t, ""), 5*time.Second, nil)

	got, err := m.Measure(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnparsed, got.Err)
}

func TestTimeMeasurer_EngineError(t *testing.T) {
	m := NewTimeMeasurer(testEngine(t), fakeTime(t, "Maximum resident set size (kbytes): 2048"), 5*time.Second, nil)

	got, err := m.Measure(context.Background(), "SELECT FAIL")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Err, "error: "), got.Err)
	assert.Contains(t, got.Err, "simulated failure")
}

func TestTimeMeasurer_Timeout(t *testing.T) {
	m := NewTimeMeasurer(testEngine(t), fakeTime(t, "Maximum resident set size (kbytes): 2048"), 200*time.Millisecond, nil)

	got, err := m.Measure(context.Background(), "SELECT SLEEP")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, got.Err)
}

// sequence returns a status reader yielding the given VmRSS values in order,
// repeating the last one.
func sequence(kb ...int64) func(string) ([]byte, error) {
	i := 0
	return func(string) ([]byte, error) {
		v := kb[len(kb)-1]
		if i < len(kb) {
			v = kb[i]
		}
		i++
		return []byte("Name:\tfake\nVmRSS:\t" + strconv.FormatInt(v, 10) + " kB\n"), nil
	}
}

func TestSamplingMeasurer_ReportsMaximumNotFinalValue(t *testing.T) {
	m := NewSamplingMeasurer(testEngine(t), "/proc", 10*time.Millisecond, 5*time.Second, nil)
	m.readStatus = sequence(1000, 3000, 5000, 2000, 1000)
	assert.Equal(t, "sample", m.Name())

	got, err := m.Measure(context.Background(), "SELECT NAP")
	require.NoError(t, err)
	require.True(t, got.OK(), got.Err)
	assert.Equal(t, int64(5000*1024), got.PeakBytes)
}

func TestSamplingMeasurer_NoSamples(t *testing.T) {
	m := NewSamplingMeasurer(testEngine(t), "/proc", 10*time.Millisecond, 5*time.Second, nil)
	m.readStatus = func(string) ([]byte, error) { return nil, fs.ErrNotExist }

	got, err := m.Measure(context.Background(), "SELECT NAP")
	require.NoError(t, err)
	assert.Equal(t, StatusNoSamples, got.Err)
}

func TestSamplingMeasurer_Timeout(t *testing.T) {
	m := NewSamplingMeasurer(testEngine(t), "/proc", 10*time.Millisecond, 200*time.Millisecond, nil)
	m.readStatus = sequence(4096)

	got, err := m.Measure(context.Background(), "SELECT SLEEP")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, got.Err)
}

func TestSamplingMeasurer_EngineError(t *testing.T) {
	m := NewSamplingMeasurer(testEngine(t), "/proc", 10*time.Millisecond, 5*time.Second, nil)
	m.readStatus = sequence(4096)

	got, err := m.Measure(context.Background(), "SELECT FAIL")
	require.NoError(t, err)
	assert.Contains(t, got.Err, "error: ")
}

func TestSamplingMeasurer_SpawnFailure(t *testing.T) {
	r := runner.New(config.EngineConfig{Bin: "/nonexistent/engine", DB: "test.db"}, nil)
	m := NewSamplingMeasurer(r, "/proc", 10*time.Millisecond, time.Second, nil)

	_, err := m.Measure(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, berrors.ErrCategorySpawn, berrors.GetCategory(err))
}

func stubLookPath(t *testing.T, fn func(string) (string, error)) {
	t.Helper()
	orig := lookPath
	lookPath = fn
	t.Cleanup(func() { lookPath = orig })
}

func TestSelect(t *testing.T) {
	cfg := config.DefaultConfig().Memory

	t.Run("auto uses time when present", func(t *testing.T) {
		stubLookPath(t, func(p string) (string, error) { return p, nil })
		m, err := Select(cfg, time.Minute, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "time", m.Name())
	})

	t.Run("auto falls back when missing", func(t *testing.T) {
		stubLookPath(t, func(string) (string, error) { return "", exec.ErrNotFound })
		m, err := Select(cfg, time.Minute, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "sample", m.Name())
	})

	t.Run("forced time requires the tool", func(t *testing.T) {
		stubLookPath(t, func(string) (string, error) { return "", exec.ErrNotFound })
		c := cfg
		c.Strategy = config.MemoryTime
		_, err := Select(c, time.Minute, nil, nil)
		require.Error(t, err)
		assert.Equal(t, berrors.ErrCategoryConfig, berrors.GetCategory(err))
	})

	t.Run("forced sample requires proc root", func(t *testing.T) {
		c := cfg
		c.Strategy = config.MemorySample
		c.ProcRoot = t.TempDir()
		m, err := Select(c, time.Minute, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "sample", m.Name())

		c.ProcRoot = "/nonexistent/proc"
		_, err = Select(c, time.Minute, nil, nil)
		assert.Error(t, err)
	})
}

type stubMeasurer struct {
	out  []Measurement
	err  error
	call int
}

func (s *stubMeasurer) Name() string { return "stub" }

func (s *stubMeasurer) Measure(ctx context.Context, sql string) (Measurement, error) {
	if s.err != nil {
		return Measurement{}, s.err
	}
	m := s.out[s.call%len(s.out)]
	s.call++
	return m, nil
}

type memorySink struct {
	samples []results.MemorySample
}

func (m *memorySink) RecordMemory(s results.MemorySample) error {
	m.samples = append(m.samples, s)
	return nil
}

func TestProfiler_RecordsEveryRep(t *testing.T) {
	measurer := &stubMeasurer{out: []Measurement{
		{PeakBytes: 1 << 20},
		{PeakBytes: -1, Err: StatusTimeout},
		{PeakBytes: 3 << 20},
	}}
	sink := &memorySink{}
	stats := observability.NewRunStats()
	p := NewProfiler(measurer, sink, Options{Mode: "rpt", Reps: 3}, stats, nil)

	require.NoError(t, p.Run(context.Background(), []catalog.Query{{ID: "q1", SQL: "x"}, {ID: "q2", SQL: "y"}}))
	require.Len(t, sink.samples, 6)

	assert.Equal(t, results.MemorySample{Mode: "rpt", Query: "q1", Rep: 1, PeakBytes: 1 << 20, Status: "success"}, sink.samples[0])
	assert.Equal(t, results.MemorySample{Mode: "rpt", Query: "q1", Rep: 2, PeakBytes: -1, Status: "timeout"}, sink.samples[1])
	assert.Equal(t, "q2", sink.samples[3].Query)

	totals := stats.Totals()
	assert.Equal(t, int64(4), totals.Success)
	assert.Equal(t, int64(2), totals.Timeout)
}

func TestProfiler_FatalErrorStops(t *testing.T) {
	measurer := &stubMeasurer{err: berrors.NewSpawnError("missing", errors.New("exec: not found"))}
	sink := &memorySink{}
	p := NewProfiler(measurer, sink, Options{Mode: "m", Reps: 3}, nil, nil)

	err := p.Run(context.Background(), []catalog.Query{{ID: "q1", SQL: "x"}})
	require.Error(t, err)
	assert.Equal(t, berrors.ErrCategorySpawn, berrors.GetCategory(err))
	assert.Empty(t, sink.samples)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, observability.OutcomeSuccess, outcomeOf(Measurement{PeakBytes: 1}))
	assert.Equal(t, observability.OutcomeTimeout, outcomeOf(Measurement{Err: StatusTimeout}))
	assert.Equal(t, observability.OutcomeParseFailure, outcomeOf(Measurement{Err: StatusNoSamples}))
	assert.Equal(t, observability.OutcomeError, outcomeOf(Measurement{Err: "error: boom"}))
}
