// Package main implements the rptbench command, a benchmark harness that
// measures an external SQL engine across labelled modes and compares them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	berrors "github.com/arkilian/rptbench/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	logLevel   string
	noColor    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rptbench",
		Short: "Benchmark harness for comparing query engine modes",
		Long: `rptbench runs a catalog of SQL queries against an external database engine
and records execution time, peak memory and intermediate join sizes per mode.
Two runs (for example baseline and rpt) are then compared query by query.

Results are appended to CSV files. Runs can also be archived in a SQLite
history and published to local or S3 object storage.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// --duckdb-bin is kept as an alias of --engine-bin.
	root.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "duckdb-bin" {
			name = "engine-bin"
		}
		return pflag.NormalizedName(name)
	})

	root.AddCommand(
		newMeasureCmd(kindTiming),
		newMeasureCmd(kindMemory),
		newMeasureCmd(kindJoins),
		newCompareCmd(),
		newCatalogCmd(),
		newHistoryCmd(),
		newFetchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rptbench version %s (commit: %s)\n", version, commit)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, context.Canceled) || berrors.GetCode(err) == berrors.CodeCanceled {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
