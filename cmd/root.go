// Package cmd defines and implements the CLI commands for the hnarchiver executable.
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

	"github.com/JakeFAU/hnarchiver/internal/app"
	"github.com/JakeFAU/hnarchiver/internal/config"
	"github.com/JakeFAU/hnarchiver/internal/crawler"
	"github.com/JakeFAU/hnarchiver/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (crawler.CycleReport, error)
	LedgerIDs() []int64
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to capture output.
var newLogger = logging.New

// newRootCmd creates the root command, which polls until interrupted.
func newRootCmd() *cobra.Command {
	var cfgFile string
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "hnarchiver",
		Short: "Archives Hacker News top stories, their comments and the pages they link to.",
		Long: `hnarchiver polls the Hacker News top stories, walks every comment tree,
and saves each story page plus every page linked from its comments into one
directory per story. Archived stories are remembered in a ledger so they are
only downloaded once.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = newLogger(cfg.Logging.Development, cfg.Logging.Verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					return fmt.Errorf("close application: %w", err)
				}
			}
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},

		RunE: runPollCommand,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.Int("period", 30, "seconds to wait between polls")
	flags.Int("limit", 30, "how many top stories to consider per poll")
	flags.Bool("verbose", false, "log every request")
	flags.String("path", "./stories", "directory that receives downloaded stories")
	flags.Int("connections_limit", 3, "maximum simultaneous connections per host")
	flags.String("metrics-addr", "", "address of the status server, disabled when empty")

	cmd.AddCommand(newCrawlCmd(), newLedgerCmd())
	return cmd
}

func runPollCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM stop the running
// command cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
