package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/app"
	"github.com/kursadbilgin/accountability-dispatch/internal/config"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("app initialization failed", zap.Error(err))
	}
	defer a.Close() //nolint:errcheck

	server, err := a.HTTP()
	if err != nil {
		logger.Fatal("http initialization failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	if cfg.SchedulerEnabled {
		g.Go(func() error { return a.DispatchJob.Start(gctx) })
		g.Go(func() error { return a.SweepJob.Start(gctx) })
	} else {
		logger.Info("scheduler disabled, ticks run only through callctl")
	}

	if a.AckWorker != nil {
		g.Go(func() error { return a.AckWorker.Start(gctx) })
	}

	logger.Info("accountability-dispatch api started",
		zap.Int("port", cfg.APIPort),
		zap.String("version", cfg.AppVersion),
		zap.Bool("scheduler", cfg.SchedulerEnabled),
		zap.Bool("queue", cfg.QueueEnabled()),
		zap.Bool("media", cfg.MediaEnabled()),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("api stopped with error", zap.Error(err))
		return
	}
	logger.Info("accountability-dispatch api stopped")
}
