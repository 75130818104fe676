package main

import (
	"github.com/spf13/cobra"

	"github.com/arkilian/rptbench/internal/app"
)

func newCatalogCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the query catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("catalog") {
				cfg.Catalog.Path = path
			}
			cat, err := app.LoadCatalog(cfg.Catalog)
			if err != nil {
				return err
			}
			return app.RenderCatalog(cmd.OutOrStdout(), cat)
		},
	}

	cmd.Flags().StringVar(&path, "catalog", "", "YAML query catalog (default built-in SSB)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		archivePath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arch, err := openArchive(archivePath)
			if err != nil {
				return err
			}
			defer arch.Close()

			runs, err := arch.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return app.RenderHistory(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&archivePath, "archive", "", "archive database (default from configuration)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list, 0 for all")
	return cmd
}
