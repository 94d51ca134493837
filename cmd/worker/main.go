package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"genflow/internal/bootstrap"
	"genflow/internal/infra"
	"genflow/internal/sweep"
)

// sweeper is the part of the scheduler the loop drives.
type sweeper interface {
	RunSweep(ctx context.Context) (sweep.Summary, error)
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("service", "worker").Logger()
	if err := serve(cfg, &logger); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}

// serve holds the worker lock for the lifetime of the sweep loop. It returns
// instead of exiting so the lock and the pools are released first.
func serve(cfg *infra.Config, logger *infra.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock := flock.New(cfg.WorkerLockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("worker: acquire lock %s: %w", cfg.WorkerLockPath, err)
	}
	if !locked {
		return fmt.Errorf("worker: another worker holds the lock %s", cfg.WorkerLockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn().Err(err).Msg("worker: release lock failed")
		}
	}()

	svc, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("worker: bootstrap: %w", err)
	}
	defer svc.Close()

	logger.Info().Dur("interval", cfg.SweepInterval).Str("lock", cfg.WorkerLockPath).Msg("worker: started")
	if err := run(ctx, svc.Scheduler, cfg.SweepInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// run sweeps immediately and then on every tick until ctx ends. A failed
// sweep is logged and retried on the next tick.
func run(ctx context.Context, s sweeper, interval time.Duration, logger *infra.Logger) error {
	if interval <= 0 {
		return fmt.Errorf("worker: sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		summary, err := s.RunSweep(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Error().Err(err).Msg("worker: sweep failed")
		case err == nil && summary.Processed > 0:
			logger.Info().
				Int("processed", summary.Processed).
				Int("completed", summary.Completed).
				Int("failed", summary.Failed).
				Int("retried", summary.Retried).
				Int("timed_out", summary.TimedOut).
				Msg("worker: sweep finished")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
