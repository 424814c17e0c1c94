package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Creates the catalog tables and indexes if they are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.InitDB(cmd.Context()); err != nil {
				return fmt.Errorf("init db: %w", err)
			}
			return nil
		},
	}
}

func newCrawlCmd() *cobra.Command {
	var withExport bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and ingestion pass now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			run, err := appInstance.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("run crawl: %w", err)
			}
			appInstance.Logger().Info("Crawl command finished.",
				zap.String("run_id", run.ID.String()),
				zap.Int64("inserted", run.Counters.Inserted),
				zap.Int64("updated", run.Counters.Updated),
			)
			if withExport {
				return runExport(cmd.Context(), appInstance)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withExport, "export", false, "write the catalog CSV after the run")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var withExport bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs the crawl now and then on every schedule.interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Schedule(cmd.Context(), withExport)
		},
	}
	cmd.Flags().BoolVar(&withExport, "export", false, "write the catalog CSV after every run that changed data")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the catalog HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Writes the catalog CSV to the configured export backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), appInstance)
		},
	}
}

func runExport(ctx context.Context, appInstance App) error {
	res, err := appInstance.Export(ctx)
	if err != nil {
		return fmt.Errorf("export catalog: %w", err)
	}
	appInstance.Logger().Info("Export written.", zap.String("uri", res.URI), zap.Int("rows", res.Rows))
	return nil
}
