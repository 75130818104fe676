package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/catalog"
	"github.com/arkilian/rptbench/internal/logging"
	"github.com/arkilian/rptbench/internal/observability"
	"github.com/arkilian/rptbench/internal/results"
)

// Options configure a memory run.
type Options struct {
	Mode string
	Reps int
}

// Profiler records one memory sample per repetition, failures included.
type Profiler struct {
	measurer Measurer
	sink     results.MemorySink
	opts     Options
	stats    *observability.RunStats
	logger   *zap.Logger
}

// NewProfiler creates a profiler. stats may be nil.
func NewProfiler(m Measurer, sink results.MemorySink, opts Options, stats *observability.RunStats, logger *zap.Logger) *Profiler {
	if stats == nil {
		stats = observability.NewRunStats()
	}
	return &Profiler{
		measurer: m,
		sink:     sink,
		opts:     opts,
		stats:    stats,
		logger:   logging.OrNop(logger),
	}
}

// Run profiles every query in order. Only conditions that make measuring
// impossible (spawn failure, cancellation, sink errors) stop the run.
func (p *Profiler) Run(ctx context.Context, queries []catalog.Query) error {
	for _, q := range queries {
		log := p.logger.With(zap.String("mode", p.opts.Mode), zap.String("query", q.ID))

		for rep := 1; rep <= p.opts.Reps; rep++ {
			start := time.Now()
			m, err := p.measurer.Measure(ctx, q.SQL)
			if err != nil {
				return fmt.Errorf("%s rep %d: %w", q.ID, rep, err)
			}

			sample := results.MemorySample{Mode: p.opts.Mode, Query: q.ID, Rep: rep}
			if m.OK() {
				sample.PeakBytes = m.PeakBytes
				sample.Status = results.StatusSuccess
				log.Info("rep finished", zap.Int("rep", rep), zap.String("peak_mb", fmt.Sprintf("%.2f", sample.PeakMB())))
			} else {
				sample.PeakBytes = results.Failed
				sample.Status = m.Err
				log.Warn("rep failed", zap.Int("rep", rep), zap.String("status", m.Err))
			}
			p.stats.Record(q.ID, outcomeOf(m), time.Since(start))

			if err := p.sink.RecordMemory(sample); err != nil {
				return err
			}
		}
	}
	return nil
}

func outcomeOf(m Measurement) observability.Outcome {
	switch m.Err {
	case "":
		return observability.OutcomeSuccess
	case StatusTimeout:
		return observability.OutcomeTimeout
	case StatusUnparsed, StatusNoSamples:
		return observability.OutcomeParseFailure
	default:
		return observability.OutcomeError
	}
}
