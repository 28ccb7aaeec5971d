package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"fileconvert/config"
	"fileconvert/logging"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fileconvert",
		Short:         "File conversion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newAPICommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newFormatsCommand())

	return rootCmd
}

// bootstrap loads configuration, builds the logger and initializes Sentry.
// The returned cleanup flushes both.
func bootstrap() (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     version,
		})
		if err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
	}

	cleanup := func() {
		sentry.Flush(2 * time.Second)
		_ = logger.Sync()
	}
	return cfg, logger, cleanup, nil
}
