// Package joinsize records intermediate join cardinalities by running each
// query's ordered COUNT probes and reading the first integer the engine
// prints.
package joinsize

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/catalog"
	"github.com/arkilian/rptbench/internal/logging"
	"github.com/arkilian/rptbench/internal/observability"
	"github.com/arkilian/rptbench/internal/results"
	"github.com/arkilian/rptbench/internal/runner"
)

// Executor runs one SQL statement through the engine.
type Executor interface {
	Run(ctx context.Context, sql string, timeout time.Duration, opts runner.Options) (*runner.Result, error)
}

// Options configure a join-size run.
type Options struct {
	Mode    string
	Timeout time.Duration
}

// Prober runs probe sequences and records one sample per step.
type Prober struct {
	exec   Executor
	sink   results.JoinSizeSink
	opts   Options
	stats  *observability.RunStats
	logger *zap.Logger
}

// NewProber creates a prober. stats may be nil.
func NewProber(exec Executor, sink results.JoinSizeSink, opts Options, stats *observability.RunStats, logger *zap.Logger) *Prober {
	if stats == nil {
		stats = observability.NewRunStats()
	}
	return &Prober{
		exec:   exec,
		sink:   sink,
		opts:   opts,
		stats:  stats,
		logger: logging.OrNop(logger),
	}
}

// Run probes every query that declares probes. A failed step is recorded as
// -1 and the sequence continues; only spawn failures, cancellation and sink
// errors stop the run.
func (p *Prober) Run(ctx context.Context, queries []catalog.Query) error {
	for _, q := range queries {
		log := p.logger.With(zap.String("mode", p.opts.Mode), zap.String("query", q.ID))
		if !q.HasProbes() {
			log.Warn("no probes defined, skipping")
			continue
		}

		for i, probe := range q.Probes {
			step := i + 1
			count, outcome, elapsed, err := p.probe(ctx, probe)
			if err != nil {
				return fmt.Errorf("%s step %d (%s): %w", q.ID, step, probe.Name, err)
			}
			p.stats.Record(q.ID, outcome, elapsed)

			sample := results.JoinSizeSample{
				Mode:     p.opts.Mode,
				Query:    q.ID,
				Step:     step,
				StepName: probe.Name,
				RowCount: count,
			}
			if err := p.sink.RecordJoinSize(sample); err != nil {
				return err
			}

			if outcome == observability.OutcomeSuccess {
				log.Info("probe finished", zap.Int("step", step), zap.String("step_name", probe.Name), zap.Int64("rows", count))
			} else {
				log.Warn("probe failed", zap.Int("step", step), zap.String("step_name", probe.Name), zap.String("outcome", string(outcome)))
			}
		}
	}
	return nil
}

func (p *Prober) probe(ctx context.Context, probe catalog.Probe) (int64, observability.Outcome, time.Duration, error) {
	res, err := p.exec.Run(ctx, probe.SQL, p.opts.Timeout, runner.Options{})
	if err != nil {
		return 0, "", 0, err
	}
	switch {
	case res.TimedOut:
		return results.Failed, observability.OutcomeTimeout, res.Elapsed, nil
	case res.ExitCode != 0:
		p.logger.Debug("probe stderr", zap.String("stderr", runner.Truncate(res.Stderr, 200)))
		return results.Failed, observability.OutcomeError, res.Elapsed, nil
	}

	count, ok := ExtractCount(res.Stdout)
	if !ok {
		return results.Failed, observability.OutcomeParseFailure, res.Elapsed, nil
	}
	return count, observability.OutcomeSuccess, res.Elapsed, nil
}

// ExtractCount returns the first integer token in out. A token is a maximal
// run of digits that does not touch a letter or underscore on either side,
// which skips type names such as "int64" in table headers. Commas are read as
// thousands separators only between well-formed groups ("1,234,567"); in any
// other position they end the token, so "12,5" yields 12.
func ExtractCount(out string) (int64, bool) {
	rs := []rune(out)
	n := len(rs)

	for i := 0; i < n; i++ {
		if !isDigit(rs[i]) {
			continue
		}

		start := i
		i = digitsEnd(rs, i)
		if i-start <= 3 {
			for i < n && rs[i] == ',' && digitsEnd(rs, i+1)-(i+1) == 3 {
				i += 4
			}
		}

		inWord := (start > 0 && isWord(rs[start-1])) || (i < n && isWord(rs[i]))
		if inWord {
			for i < n && (isWord(rs[i]) || isDigit(rs[i])) {
				i++
			}
			continue
		}

		value, ok := parseGrouped(rs[start:i])
		if !ok {
			continue
		}
		return value, true
	}
	return 0, false
}

// digitsEnd returns the index just past the run of digits starting at i.
func digitsEnd(rs []rune, i int) int {
	for i < len(rs) && isDigit(rs[i]) {
		i++
	}
	return i
}

// parseGrouped parses digits with optional comma separators. It reports
// false on overflow.
func parseGrouped(rs []rune) (int64, bool) {
	var value int64
	for _, r := range rs {
		if r == ',' {
			continue
		}
		d := int64(r - '0')
		if value > (1<<63-1-d)/10 {
			return 0, false
		}
		value = value*10 + d
	}
	return value, true
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
