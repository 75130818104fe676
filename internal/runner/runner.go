// Package runner invokes the external database engine's command-line client
// with a SQL string and reports how the process ended.
//
// Every invocation is bounded by a timeout. On expiry the child's whole
// process group is killed and the result is marked as timed out; the runner
// never retries.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/config"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/logging"
)

// DefaultWaitDelay bounds how long Wait keeps draining output pipes after
// the child was killed or exited while a descendant still holds them.
const DefaultWaitDelay = 2 * time.Second

// Options adjust a single invocation.
type Options struct {
	// DiscardStdout sends the engine's stdout to the null device instead of
	// capturing it.
	DiscardStdout bool

	// Wrapper is prepended to the engine argv, e.g. ["/usr/bin/time", "-v"].
	Wrapper []string
}

// Result describes a finished invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
}

// Success reports whether the engine exited with status 0 within the timeout.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Err converts an unsuccessful result into a structured error.
// It returns nil for successful results.
func (r *Result) Err() error {
	switch {
	case r.TimedOut:
		return berrors.NewTimeoutError(fmt.Sprintf("engine did not finish within %v", r.Elapsed.Round(time.Millisecond)))
	case r.ExitCode != 0:
		return berrors.NewExecutionError(berrors.CodeNonZeroExit,
			fmt.Sprintf("engine exited with status %d: %s", r.ExitCode, Truncate(r.Stderr, 200)))
	default:
		return nil
	}
}

// Runner executes SQL through the engine CLI as `<bin> <db> [extra...] -c <sql>`.
type Runner struct {
	bin       string
	db        string
	extraArgs []string
	waitDelay time.Duration
	logger    *zap.Logger
}

// New creates a runner for the configured engine.
func New(engine config.EngineConfig, logger *zap.Logger) *Runner {
	return &Runner{
		bin:       engine.Bin,
		db:        engine.DB,
		extraArgs: append([]string(nil), engine.ExtraArgs...),
		waitDelay: DefaultWaitDelay,
		logger:    logging.OrNop(logger),
	}
}

// Args returns the engine argv for sql.
func (r *Runner) Args(sql string) []string {
	args := make([]string, 0, len(r.extraArgs)+4)
	args = append(args, r.bin, r.db)
	args = append(args, r.extraArgs...)
	return append(args, "-c", sql)
}

// Run executes sql and waits for the engine to exit or the timeout to expire.
// A returned error means no result could be obtained at all (spawn failure or
// cancellation of ctx); timeouts and non-zero exits are reported in Result.
func (r *Runner) Run(ctx context.Context, sql string, timeout time.Duration, opts Options) (*Result, error) {
	p, err := r.Start(ctx, sql, timeout, opts)
	if err != nil {
		return nil, err
	}
	return p.Wait()
}

// Process is a started engine invocation.
type Process struct {
	cmd    *exec.Cmd
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	stdout bytes.Buffer
	stderr bytes.Buffer
	start  time.Time
	logger *zap.Logger
}

// Start spawns the engine in its own process group without waiting for it.
// The caller must call Wait exactly once.
func (r *Runner) Start(ctx context.Context, sql string, timeout time.Duration, opts Options) (*Process, error) {
	argv := append(append([]string(nil), opts.Wrapper...), r.Args(sql)...)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	p := &Process{
		parent: ctx,
		ctx:    runCtx,
		cancel: cancel,
		logger: r.logger,
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = r.waitDelay
	if !opts.DiscardStdout {
		cmd.Stdout = &p.stdout
	}
	cmd.Stderr = &p.stderr
	p.cmd = cmd

	p.start = time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, berrors.Wrap(berrors.ErrCategoryExecution, berrors.CodeCanceled, "run canceled", ctx.Err())
		}
		return nil, berrors.NewSpawnError(fmt.Sprintf("failed to start %s", argv[0]), err)
	}

	r.logger.Debug("engine started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("bin", argv[0]),
		zap.Duration("timeout", timeout))

	return p, nil
}

// Pid returns the operating system process id of the started child.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits or is killed on timeout.
func (p *Process) Wait() (*Result, error) {
	defer p.cancel()

	waitErr := p.cmd.Wait()
	elapsed := time.Since(p.start)

	res := &Result{
		Stdout:  p.stdout.String(),
		Stderr:  p.stderr.String(),
		Elapsed: elapsed,
	}

	if p.parent.Err() != nil && waitErr != nil {
		return res, berrors.Wrap(berrors.ErrCategoryExecution, berrors.CodeCanceled, "run canceled", p.parent.Err())
	}

	if waitErr != nil && errors.Is(p.ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		p.logger.Debug("engine timed out", zap.Int("pid", p.cmd.Process.Pid), zap.Duration("elapsed", elapsed))
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The engine exited; a descendant kept the pipes open past WaitDelay.
	default:
		return res, berrors.NewInternalError("failed to wait for engine", waitErr)
	}

	return res, nil
}

// Truncate shortens s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
