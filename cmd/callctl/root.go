package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/accountability-dispatch/internal/app"
	"github.com/kursadbilgin/accountability-dispatch/internal/config"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "callctl",
		Short:         "Operate the accountability call dispatcher",
		Long:          "callctl runs one dispatch or sweep tick against the shared database\nand publishes client call outcomes onto the ack queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newTickCmd(jobDispatch),
		newTickCmd(jobSweep),
		newAckCmd(),
	)
	return cmd
}

// loadRuntime reads the environment config and builds the process logger.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// withApp builds the full call pipeline, runs fn and tears everything down.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	return fn(ctx, a)
}
