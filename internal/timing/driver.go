// Package timing measures query latency: one discarded warm-up execution
// followed by a fixed number of timed repetitions per query.
package timing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/catalog"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/logging"
	"github.com/arkilian/rptbench/internal/observability"
	"github.com/arkilian/rptbench/internal/results"
	"github.com/arkilian/rptbench/internal/runner"
)

// Executor runs one SQL statement through the engine.
type Executor interface {
	Run(ctx context.Context, sql string, timeout time.Duration, opts runner.Options) (*runner.Result, error)
}

// Options configure a timing run.
type Options struct {
	Mode    string
	Reps    int
	Timeout time.Duration
}

// Driver executes the timing protocol for a list of queries.
type Driver struct {
	exec   Executor
	sink   results.TimingSink
	opts   Options
	stats  *observability.RunStats
	logger *zap.Logger
}

// NewDriver creates a timing driver. stats may be nil.
func NewDriver(exec Executor, sink results.TimingSink, opts Options, stats *observability.RunStats, logger *zap.Logger) *Driver {
	if stats == nil {
		stats = observability.NewRunStats()
	}
	return &Driver{
		exec:   exec,
		sink:   sink,
		opts:   opts,
		stats:  stats,
		logger: logging.OrNop(logger),
	}
}

// Run measures every query in order. It returns on the first spawn failure,
// sink error or execution error that errors.IsFatal reports as fatal; a
// timeout skips the affected execution only.
func (d *Driver) Run(ctx context.Context, queries []catalog.Query) error {
	for _, q := range queries {
		if err := d.runQuery(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runQuery(ctx context.Context, q catalog.Query) error {
	log := d.logger.With(zap.String("mode", d.opts.Mode), zap.String("query", q.ID))

	// Warm-up; never recorded.
	res, err := d.exec.Run(ctx, q.SQL, d.opts.Timeout, runner.Options{DiscardStdout: true})
	if err != nil {
		return fmt.Errorf("%s warm-up: %w", q.ID, err)
	}
	if err := res.Err(); err != nil {
		if berrors.IsFatal(err) {
			d.stats.Record(q.ID, observability.OutcomeError, res.Elapsed)
			return fmt.Errorf("%s warm-up: %w", q.ID, err)
		}
		log.Warn("warm-up failed, continuing", zap.Error(err))
	}

	for rep := 1; rep <= d.opts.Reps; rep++ {
		res, err := d.exec.Run(ctx, q.SQL, d.opts.Timeout, runner.Options{DiscardStdout: true})
		if err != nil {
			return fmt.Errorf("%s rep %d: %w", q.ID, rep, err)
		}

		if err := res.Err(); err != nil {
			if berrors.IsFatal(err) {
				d.stats.Record(q.ID, observability.OutcomeError, res.Elapsed)
				return fmt.Errorf("%s rep %d: %w", q.ID, rep, err)
			}
			// The timing table has no status column, so a skipped rep writes no row.
			d.stats.Record(q.ID, observability.OutcomeTimeout, res.Elapsed)
			log.Warn("rep skipped", zap.Int("rep", rep), zap.Error(err))
			continue
		}

		d.stats.Record(q.ID, observability.OutcomeSuccess, res.Elapsed)
		sample := results.TimingSample{
			Mode:    d.opts.Mode,
			Query:   q.ID,
			Rep:     rep,
			Seconds: res.Elapsed.Seconds(),
		}
		if err := d.sink.RecordTiming(sample); err != nil {
			return err
		}
		log.Info("rep finished", zap.Int("rep", rep), zap.String("seconds", fmt.Sprintf("%.6f", sample.Seconds)))
	}
	return nil
}
