package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/app"
	"github.com/arkilian/rptbench/internal/config"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/logging"
)

type measureKind struct {
	use   string
	short string
	kind  config.Kind
}

var (
	kindTiming = measureKind{use: "run", short: "Time every catalog query (warm-up plus timed repetitions)", kind: config.KindTiming}
	kindMemory = measureKind{use: "memory", short: "Measure peak resident memory of every catalog query", kind: config.KindMemory}
	kindJoins  = measureKind{use: "joins", short: "Record intermediate join sizes of every catalog query", kind: config.KindJoinSize}
)

// measureFlags are the flags shared by the measurement commands.
type measureFlags struct {
	mode      string
	engineBin string
	db        string
	reps      int
	out       string
	queries   []string
	catalog   string
	strategy  string
	archive   bool
	publish   bool
}

func newMeasureCmd(k measureKind) *cobra.Command {
	var f measureFlags

	cmd := &cobra.Command{
		Use:   k.use + " [query-id...]",
		Short: k.short,
		Long: k.short + `.

Query ids given as arguments or with --queries restrict the run; unknown ids
are skipped with a warning and known ids run in the order given.
Per-repetition failures are recorded as data and do not change the exit
status; spawn failures and (for timing) non-zero engine exits abort the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.queries = append(f.queries, args...)
			return runMeasure(cmd, k.kind, &f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.mode, "mode", "", "label of this run, e.g. baseline or rpt")
	fl.StringVar(&f.engineBin, "engine-bin", "", "engine executable (alias --duckdb-bin)")
	fl.StringVar(&f.db, "db", "", "database file passed to the engine")
	fl.StringVar(&f.out, "out", "", "output CSV, appended to (default "+config.DefaultOut(k.kind)+")")
	fl.StringSliceVar(&f.queries, "queries", nil, "query ids to run, comma separated")
	fl.StringVar(&f.catalog, "catalog", "", "YAML query catalog (default built-in SSB)")
	fl.BoolVar(&f.archive, "archive", false, "record the run in the SQLite archive")
	fl.BoolVar(&f.publish, "publish", false, "publish the output file to object storage")

	switch k.kind {
	case config.KindTiming:
		fl.IntVar(&f.reps, "reps", 5, "timed repetitions per query")
	case config.KindMemory:
		fl.IntVar(&f.reps, "reps", 3, "measurements per query")
		fl.StringVar(&f.strategy, "strategy", "", "memory strategy: auto, time or sample")
	}
	return cmd
}

// apply overrides configuration with flags set on the command line.
func (f *measureFlags) apply(cmd *cobra.Command, kind config.Kind, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("mode") {
		cfg.Run.Mode = f.mode
	}
	if changed("engine-bin") {
		cfg.Engine.Bin = f.engineBin
	}
	if changed("db") {
		cfg.Engine.DB = f.db
	}
	if changed("out") {
		cfg.Run.Out = f.out
	}
	if len(f.queries) > 0 {
		cfg.Run.Queries = f.queries
	}
	if changed("catalog") {
		cfg.Catalog.Path = f.catalog
	}
	if changed("strategy") {
		cfg.Memory.Strategy = config.MemoryStrategy(f.strategy)
	}
	if changed("archive") {
		cfg.Archive.Enabled = f.archive
	}
	if changed("publish") {
		cfg.Publish.Enabled = f.publish
	}
	if changed("reps") {
		switch kind {
		case config.KindMemory:
			cfg.Run.MemoryReps = f.reps
		default:
			cfg.Run.Reps = f.reps
		}
	}
}

// loadConfig loads file and environment configuration and applies the
// global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeInvalidConfig, "invalid logging configuration", err)
	}
	return logger, nil
}

func runMeasure(cmd *cobra.Command, kind config.Kind, f *measureFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f.apply(cmd, kind, cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, kind, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Run(cmd.Context())
	if summary != nil {
		printSummary(cmd, summary)
	}
	return err
}

func printSummary(cmd *cobra.Command, s *app.Summary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s run %s finished in %s: %d queries, %d samples, %d failures\n",
		s.Mode, s.RunID, s.Elapsed.Round(time.Millisecond), s.Queries, s.Totals.Success, s.Totals.Failures())
	if len(s.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped unknown queries: %s\n", strings.Join(s.Skipped, ", "))
	}
	fmt.Fprintf(w, "Results: %s\n", s.Out)
	for _, obj := range s.Published {
		fmt.Fprintf(w, "Published: %s\n", obj)
	}
}
