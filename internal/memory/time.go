package memory

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/logging"
	"github.com/arkilian/rptbench/internal/runner"
)

// maxRSSPattern matches GNU time's verbose report line, e.g.
// "Maximum resident set size (kbytes): 123456".
var maxRSSPattern = regexp.MustCompile(`(?i)maximum resident set size[^\d\n]*(\d+)`)

// TimeMeasurer reads the peak from GNU time's verbose report.
type TimeMeasurer struct {
	engine  Engine
	timeBin string
	timeout time.Duration
	logger  *zap.Logger
}

// NewTimeMeasurer creates a measurer wrapping the engine in `<timeBin> -v`.
func NewTimeMeasurer(engine Engine, timeBin string, timeout time.Duration, logger *zap.Logger) *TimeMeasurer {
	return &TimeMeasurer{
		engine:  engine,
		timeBin: timeBin,
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// Name identifies the strategy.
func (m *TimeMeasurer) Name() string { return "time" }

// Measure runs sql under the time wrapper.
func (m *TimeMeasurer) Measure(ctx context.Context, sql string) (Measurement, error) {
	res, err := m.engine.Run(ctx, sql, m.timeout, runner.Options{
		DiscardStdout: true,
		Wrapper:       []string{m.timeBin, "-v"},
	})
	if err != nil {
		return Measurement{}, err
	}
	if f, failed := failure(res); failed {
		return f, nil
	}

	kb, ok := ParseMaxRSS(res.Stderr)
	if !ok {
		m.logger.Debug("time report without peak", zap.String("stderr", runner.Truncate(res.Stderr, 200)))
		return Measurement{PeakBytes: -1, Err: StatusUnparsed}, nil
	}
	return Measurement{PeakBytes: kb * 1024}, nil
}

// ParseMaxRSS extracts the maximum resident set size in kilobytes from a GNU
// time verbose report.
func ParseMaxRSS(report string) (int64, bool) {
	match := maxRSSPattern.FindStringSubmatch(report)
	if match == nil {
		return 0, false
	}
	kb, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return kb, true
}
