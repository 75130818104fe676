// Package memory measures the peak resident memory of single engine
// invocations.
//
// Two strategies implement Measurer: TimeMeasurer wraps the engine in GNU
// time and reads its report, SamplingMeasurer polls the child's process
// status file. Select picks one once at startup; callers never learn which
// strategy is in use.
package memory

import (
	"context"
	"time"

	"github.com/arkilian/rptbench/internal/runner"
)

// Failure statuses recorded in place of a measurement.
const (
	StatusTimeout   = "timeout"
	StatusUnparsed  = "could not parse memory stats"
	StatusNoSamples = "could not measure memory"
)

// Measurement is the outcome of one profiled execution. Err is empty on
// success; otherwise PeakBytes is meaningless.
type Measurement struct {
	PeakBytes int64
	Err       string
}

// OK reports whether the measurement succeeded.
func (m Measurement) OK() bool {
	return m.Err == ""
}

// Measurer profiles one execution of sql. The returned error is reserved for
// conditions that prevent any measurement at all (spawn failure,
// cancellation); every other failure is reported in Measurement.Err.
type Measurer interface {
	Measure(ctx context.Context, sql string) (Measurement, error)
	Name() string
}

// Engine is the subset of runner.Runner the measurers need.
type Engine interface {
	Run(ctx context.Context, sql string, timeout time.Duration, opts runner.Options) (*runner.Result, error)
	Start(ctx context.Context, sql string, timeout time.Duration, opts runner.Options) (*runner.Process, error)
}

// failure converts an unsuccessful runner result into a measurement.
func failure(res *runner.Result) (Measurement, bool) {
	switch {
	case res.TimedOut:
		return Measurement{PeakBytes: -1, Err: StatusTimeout}, true
	case res.ExitCode != 0:
		return Measurement{PeakBytes: -1, Err: "error: " + runner.Truncate(res.Stderr, 200)}, true
	default:
		return Measurement{}, false
	}
}
