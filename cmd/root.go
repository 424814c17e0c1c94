// Package cmd defines the bookcatalog CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/config"
	"github.com/JakeFAU/book-catalog-pipeline/internal/export"
	"github.com/JakeFAU/book-catalog-pipeline/internal/logging"
	"github.com/JakeFAU/book-catalog-pipeline/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands drive. Tests swap in a fake.
type App interface {
	Logger() *zap.Logger
	InitDB(ctx context.Context) error
	RunOnce(ctx context.Context) (catalog.IngestRun, error)
	Export(ctx context.Context) (export.Result, error)
	Schedule(ctx context.Context, exportAfter bool) error
	Serve(ctx context.Context) error
	Close()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "bookcatalog",
		Short: "Crawls a book catalog and serves its price history.",
		Long: `bookcatalog scrapes product pages from a book catalog site, upserts every
book into Postgres while keeping a bounded history of snapshots, and serves
the catalog and its analytics over HTTP.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); BOOKCATALOG_* env vars override it")

	cmd.AddCommand(
		newInitDBCmd(),
		newCrawlCmd(),
		newScheduleCmd(),
		newServeCmd(),
		newExportCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	bootstrap, err := logging.New(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(bootstrap)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Fatal("Command execution failed", zap.Error(err))
	}
}
