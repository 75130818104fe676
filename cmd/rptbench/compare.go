package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arkilian/rptbench/internal/app"
	"github.com/arkilian/rptbench/internal/archive"
)

func newCompareCmd() *cobra.Command {
	var (
		metric      string
		archiveRuns bool
		archivePath string
		showStdev   bool
	)

	cmd := &cobra.Command{
		Use:   "compare [baseline.csv treatment.csv]",
		Short: "Compare two runs query by query",
		Long: `Compare two result files, or two archived runs with --archive-runs.

Without arguments the files ` + app.DefaultBaselinePath + ` and ` + app.DefaultTreatmentPath + `
are compared. Speedup is baseline mean over treatment mean; the overall
speedup is the ratio of summed means, so long queries weigh more. Queries
present in only one run are reported as MISSING and excluded from totals.`,
		Example: `  rptbench compare results/ssb_baseline.csv results/ssb_rpt.csv
  rptbench compare --metric memory baseline_mem.csv rpt_mem.csv
  rptbench compare --archive-runs 3f2a9c1e 8b7d0e44`,
		Args: func(cmd *cobra.Command, args []string) error {
			if archiveRuns {
				return cobra.ExactArgs(2)(cmd, args)
			}
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or a baseline and a treatment file, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.CompareOptions{
				Metric:    metric,
				Color:     !noColor && !color.NoColor,
				ShowStdev: showStdev,
			}
			w := cmd.OutOrStdout()

			if !archiveRuns {
				var baseline, treatment string
				if len(args) == 2 {
					baseline, treatment = args[0], args[1]
				}
				_, err := app.CompareFiles(w, baseline, treatment, opts)
				return err
			}

			arch, err := openArchive(archivePath)
			if err != nil {
				return err
			}
			defer arch.Close()
			_, err = app.CompareRuns(cmd.Context(), w, arch, args[0], args[1], opts)
			return err
		},
	}

	cmd.Flags().StringVar(&metric, "metric", "time", "metric to compare: time, memory or joins")
	cmd.Flags().BoolVar(&archiveRuns, "archive-runs", false, "arguments are archived run ids instead of files")
	cmd.Flags().StringVar(&archivePath, "archive", "", "archive database (default from configuration)")
	cmd.Flags().BoolVar(&showStdev, "stdev", false, "show per-run standard deviation columns")
	return cmd
}

// openArchive opens the archive named by flag, or the configured one.
func openArchive(path string) (*archive.Archive, error) {
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Archive.Path
	}
	return archive.Open(path)
}
