package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/arkilian/rptbench/internal/config"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/storage"
)

func newFetchCmd() *cobra.Command {
	var (
		mode        string
		dir         string
		storagePath string
	)

	cmd := &cobra.Command{
		Use:   "fetch <run-id>",
		Short: "Download and decompress the published files of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Run.Mode = mode
			}
			if cfg.Run.Mode == "" {
				return berrors.NewConfigError("--mode is required")
			}
			if cmd.Flags().Changed("storage-path") {
				cfg.Publish.Storage.Path = storagePath
			}
			cfg.Resolve(config.KindTiming)

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := storage.New(cmd.Context(), cfg.Publish.Storage)
			if err != nil {
				return berrors.NewStorageError(berrors.CodeOpenFailed, "failed to initialize storage", err)
			}
			pub := storage.NewPublisher(store, cfg.Publish.Prefix, logger)

			res, err := pub.FetchRun(cmd.Context(), args[0], cfg.Run.Mode, dir)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, f := range res.Files() {
				fmt.Fprintln(w, f)
			}
			if len(res.Errors) > 0 {
				objects := make([]string, 0, len(res.Errors))
				for obj := range res.Errors {
					objects = append(objects, obj)
				}
				sort.Strings(objects)
				for _, obj := range objects {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", obj, res.Errors[obj])
				}
				return berrors.NewStorageError(berrors.CodeDownloadFailed,
					fmt.Sprintf("%d of %d files could not be fetched", len(res.Errors), len(res.Errors)+len(res.LocalPaths)), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "mode the run was published under")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "destination directory")
	cmd.Flags().StringVar(&storagePath, "storage-path", "", "local storage root (default from configuration)")
	return cmd
}
