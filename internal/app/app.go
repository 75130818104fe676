// Package app wires configuration, catalog, drivers and result sinks into
// the measurement runs and comparisons exposed by the rptbench command.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/archive"
	"github.com/arkilian/rptbench/internal/catalog"
	"github.com/arkilian/rptbench/internal/config"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/joinsize"
	"github.com/arkilian/rptbench/internal/logging"
	"github.com/arkilian/rptbench/internal/memory"
	"github.com/arkilian/rptbench/internal/observability"
	"github.com/arkilian/rptbench/internal/results"
	"github.com/arkilian/rptbench/internal/runner"
	"github.com/arkilian/rptbench/internal/storage"
	"github.com/arkilian/rptbench/internal/sysinfo"
	"github.com/arkilian/rptbench/internal/timing"
)

// App runs one kind of measurement for one mode.
type App struct {
	cfg     *config.Config
	kind    config.Kind
	logger  *zap.Logger
	catalog *catalog.Catalog
	stats   *observability.RunStats

	// Optional resources
	archive   *archive.Archive
	publisher *storage.Publisher

	mu      sync.Mutex
	running bool
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Kind      config.Kind
	Mode      string
	Out       string
	Queries   int
	Skipped   []string
	Totals    observability.QueryOutcomes
	Published []string
	Elapsed   time.Duration
}

// LoadConfig builds the configuration from defaults, a .env file in the
// working directory, an optional config file and RPTBENCH_* variables.
// Command-line flags are applied by the caller afterwards.
func LoadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeInvalidConfig, "failed to load .env", err)
	}

	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeInvalidConfig, "failed to load config file", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// LoadCatalog returns the configured catalog, or the built-in SSB catalog
// when no path is set.
func LoadCatalog(cfg config.CatalogConfig) (*catalog.Catalog, error) {
	if cfg.Path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(cfg.Path)
}

// New validates cfg for kind, prepares output directories and opens the
// optional archive and publisher.
func New(ctx context.Context, cfg *config.Config, kind config.Kind, logger *zap.Logger) (*App, error) {
	cfg.Resolve(kind)
	if err := cfg.Validate(); err != nil {
		return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeInvalidConfig, "invalid configuration", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeDirectory, "failed to create output directory", err)
	}

	cat, err := LoadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		kind:    kind,
		logger:  logging.OrNop(logger),
		catalog: cat,
		stats:   observability.NewRunStats(),
	}

	if err := a.initSharedResources(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	if a.cfg.Archive.Enabled {
		arch, err := archive.Open(a.cfg.Archive.Path)
		if err != nil {
			return err
		}
		a.archive = arch
		a.logger.Debug("archive opened", zap.String("path", a.cfg.Archive.Path))
	}

	if a.cfg.Publish.Enabled {
		store, err := storage.New(ctx, a.cfg.Publish.Storage)
		if err != nil {
			return berrors.NewStorageError(berrors.CodeOpenFailed, "failed to initialize storage", err)
		}
		a.publisher = storage.NewPublisher(store, a.cfg.Publish.Prefix, a.logger)
		a.logger.Debug("publisher initialized",
			zap.String("type", a.cfg.Publish.Storage.Type),
			zap.String("prefix", a.cfg.Publish.Prefix))
	}
	return nil
}

// Close releases the archive.
func (a *App) Close() error {
	if a.archive != nil {
		return a.archive.Close()
	}
	return nil
}

// Stats returns the outcome counters of the current run.
func (a *App) Stats() *observability.RunStats { return a.stats }

// Catalog returns the loaded catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// queries applies the --queries filter. Unknown ids are skipped with a
// warning; known ids run in the order given.
func (a *App) queries() ([]catalog.Query, []string) {
	if len(a.cfg.Run.Queries) == 0 {
		return a.catalog.Queries(), nil
	}
	selected, unknown := a.catalog.Select(a.cfg.Run.Queries)
	for _, id := range unknown {
		a.logger.Warn("unknown query id, skipping", zap.String("query", id))
	}
	return selected, unknown
}

// Run executes the measurement and records every sample to the output CSV
// and, when enabled, the archive. Per-repetition failures are data; only
// fatal errors are returned.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, fmt.Errorf("run already in progress")
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	start := time.Now()
	queries, skipped := a.queries()
	if a.kind == config.KindJoinSize {
		probed := catalog.WithProbes(queries)
		if n := len(queries) - len(probed); n > 0 {
			a.logger.Info("queries without probes are not measured", zap.Int("count", n))
		}
		queries = probed
	}
	summary := &Summary{
		Kind:    a.kind,
		Mode:    a.cfg.Run.Mode,
		Out:     a.cfg.Run.Out,
		Queries: len(queries),
		Skipped: skipped,
	}

	host := sysinfo.Collect(ctx, a.logger)
	a.logger.Info("starting run",
		append([]zap.Field{
			zap.String("kind", string(a.kind)),
			zap.String("mode", a.cfg.Run.Mode),
			zap.Int("queries", len(queries)),
			zap.String("out", a.cfg.Run.Out),
		}, host.Fields()...)...)

	runID, recorder, err := a.beginArchive(ctx, host)
	if err != nil {
		return nil, err
	}
	summary.RunID = runID

	runErr := a.measure(ctx, queries, recorder)

	status := archive.StatusCompleted
	if runErr != nil {
		status = archive.StatusFailed
	}
	if a.archive != nil {
		// The run may have been interrupted; still stamp its final status.
		if err := a.archive.FinishRun(context.WithoutCancel(ctx), runID, status); err != nil {
			a.logger.Error("failed to finish archived run", zap.String("run_id", runID), zap.Error(err))
		}
	}

	summary.Totals = a.stats.Totals()
	summary.Elapsed = time.Since(start)
	a.logSummary(summary)

	if runErr != nil {
		return summary, runErr
	}

	if a.publisher != nil {
		objects, err := a.publisher.Publish(ctx, runID, a.cfg.Run.Mode, []string{a.cfg.Run.Out})
		summary.Published = objects
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (a *App) beginArchive(ctx context.Context, host *sysinfo.Snapshot) (string, *archive.Recorder, error) {
	if a.archive == nil {
		return uuid.NewString(), nil, nil
	}

	reps := a.cfg.Run.Reps
	switch a.kind {
	case config.KindMemory:
		reps = a.cfg.Run.MemoryReps
	case config.KindJoinSize:
		reps = 1
	}

	id, err := a.archive.BeginRun(ctx, archive.Run{
		Kind:               string(a.kind),
		Mode:               a.cfg.Run.Mode,
		EngineBin:          a.cfg.Engine.Bin,
		DBPath:             a.cfg.Engine.DB,
		Reps:               reps,
		CatalogFingerprint: a.catalog.Fingerprint(),
		HostJSON:           host.JSON(),
	})
	if err != nil {
		return "", nil, err
	}
	a.logger.Info("archiving run", zap.String("run_id", id))
	return id, a.archive.Recorder(ctx, id), nil
}

func (a *App) measure(ctx context.Context, queries []catalog.Query, recorder *archive.Recorder) error {
	engine := runner.New(a.cfg.Engine, a.logger)

	switch a.kind {
	case config.KindTiming:
		w, err := results.OpenTimingWriter(a.cfg.Run.Out)
		if err != nil {
			return err
		}
		defer closeLogged(w, a.logger)

		sinks := results.TimingSinks{w}
		if recorder != nil {
			sinks = append(sinks, recorder)
		}
		d := timing.NewDriver(engine, sinks, timing.Options{
			Mode:    a.cfg.Run.Mode,
			Reps:    a.cfg.Run.Reps,
			Timeout: a.cfg.Timeouts.Query,
		}, a.stats, a.logger)
		return d.Run(ctx, queries)

	case config.KindMemory:
		m, err := memory.Select(a.cfg.Memory, a.cfg.Timeouts.Query, engine, a.logger)
		if err != nil {
			return err
		}
		w, err := results.OpenMemoryWriter(a.cfg.Run.Out)
		if err != nil {
			return err
		}
		defer closeLogged(w, a.logger)

		sinks := results.MemorySinks{w}
		if recorder != nil {
			sinks = append(sinks, recorder)
		}
		p := memory.NewProfiler(m, sinks, memory.Options{
			Mode: a.cfg.Run.Mode,
			Reps: a.cfg.Run.MemoryReps,
		}, a.stats, a.logger)
		return p.Run(ctx, queries)

	case config.KindJoinSize:
		w, err := results.OpenJoinSizeWriter(a.cfg.Run.Out)
		if err != nil {
			return err
		}
		defer closeLogged(w, a.logger)

		sinks := results.JoinSizeSinks{w}
		if recorder != nil {
			sinks = append(sinks, recorder)
		}
		p := joinsize.NewProber(engine, sinks, joinsize.Options{
			Mode:    a.cfg.Run.Mode,
			Timeout: a.cfg.Timeouts.Probe,
		}, a.stats, a.logger)
		return p.Run(ctx, queries)

	default:
		return berrors.NewInternalError(fmt.Sprintf("unknown run kind %q", a.kind), nil)
	}
}

func (a *App) logSummary(s *Summary) {
	for _, q := range a.stats.Summary() {
		if q.Failures() == 0 {
			continue
		}
		a.logger.Warn("query had failures",
			zap.String("query", q.Query),
			zap.Int64("success", q.Success),
			zap.Int64("timeout", q.Timeout),
			zap.Int64("error", q.Error),
			zap.Int64("parse_failure", q.ParseFailure))
	}
	a.logger.Info("run finished",
		zap.String("run_id", s.RunID),
		zap.String("mode", s.Mode),
		zap.Int64("samples", s.Totals.Total()),
		zap.Int64("failures", s.Totals.Failures()),
		zap.Duration("elapsed", s.Elapsed),
		zap.String("out", s.Out))
}

func closeLogged(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close result file", zap.Error(err))
	}
}
