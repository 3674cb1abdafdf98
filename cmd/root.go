// Package cmd defines the stockcrawler CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/config"
	"github.com/JakeFAU/stockcrawler/internal/logging"
	"github.com/JakeFAU/stockcrawler/internal/scheduler"
	"github.com/JakeFAU/stockcrawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface the commands drive.
type App interface {
	Run(ctx context.Context) error
	RunTask(ctx context.Context, name string) (backfill.Summary, error)
	Triggers() []scheduler.TriggerInfo
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile       string
	maxConcurrent int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "stockcrawler",
		Short: "Scheduled backfill of listed-company financial data.",
		Long: `stockcrawler runs idempotent backfill tasks on cron triggers. Each task
finds the records missing for its reporting window, fetches them from the
configured sources under a process-wide concurrency cap, and marks the window
done in the sentinel cache.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(cmd.Context())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().IntVar(&opts.maxConcurrent, "max-concurrent-requests", 0,
		"cap on in-flight outbound requests (0 means 4 per CPU)")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newTasksCmd())
	return cmd
}

func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("max-concurrent-requests") {
		cfg.Fetch.MaxConcurrentRequests = o.maxConcurrent
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	return &cfg, nil
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
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logging.Must(false).Fatal("command execution failed", zap.Error(err))
	}
}
