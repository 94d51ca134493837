package main

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"genflow/internal/infra"
	"genflow/internal/sweep"
)

type countingSweeper struct {
	runs   int
	cancel context.CancelFunc
	stopAt int
	err    error
}

func (c *countingSweeper) RunSweep(ctx context.Context) (sweep.Summary, error) {
	c.runs++
	if c.runs >= c.stopAt {
		c.cancel()
	}
	return sweep.Summary{Processed: 1}, c.err
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	logger := zerolog.New(io.Discard)
	for _, sweepErr := range []error{nil, errors.New("db down")} {
		ctx, cancel := context.WithCancel(context.Background())
		s := &countingSweeper{cancel: cancel, stopAt: 3, err: sweepErr}

		err := run(ctx, s, time.Millisecond, &logger)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
		if s.runs != 3 {
			t.Fatalf("runs = %d, want 3", s.runs)
		}
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	logger := zerolog.New(io.Discard)
	if err := run(context.Background(), &countingSweeper{}, 0, &logger); err == nil {
		t.Fatalf("expected error")
	}
}

func TestServeReleasesLockOnBootstrapFailure(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := &infra.Config{
		DatabaseURL:    "postgres://%zz",
		SweepInterval:  time.Second,
		WorkerLockPath: filepath.Join(t.TempDir(), "worker.lock"),
	}
	if err := serve(cfg, &logger); err == nil {
		t.Fatalf("expected bootstrap error")
	}

	other := flock.New(cfg.WorkerLockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("lock still held after serve returned: locked=%v err=%v", locked, err)
	}
	_ = other.Unlock()
}

func TestServeRefusesWhenLockHeld(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "worker.lock")
	holder := flock.New(path)
	if locked, err := holder.TryLock(); err != nil || !locked {
		t.Fatalf("TryLock: locked=%v err=%v", locked, err)
	}
	defer holder.Unlock()

	cfg := &infra.Config{SweepInterval: time.Second, WorkerLockPath: path}
	if err := serve(cfg, &logger); err == nil {
		t.Fatalf("expected lock error")
	}
}
