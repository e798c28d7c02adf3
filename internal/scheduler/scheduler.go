// Package scheduler drives periodic unattended login attempts, independent
// of HTTP traffic. The attempt itself is injected, so the package knows
// nothing about browsers or sessions.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Attempt is one unattended login run: isolation sweep plus the state
// machine through the code prompt.
type Attempt func(ctx context.Context) error

// Scheduler toggles a periodic attempt loop on and off.
type Scheduler struct {
	interval time.Duration
	attempt  Attempt
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a stopped scheduler.
func New(interval time.Duration, attempt Attempt, logger *zap.Logger) *Scheduler {
	return &Scheduler{interval: interval, attempt: attempt, logger: logger.Named("scheduler")}
}

// Start launches the loop. Returns false when already running. The first
// attempt fires immediately; later ones at the configured interval. The
// parent context bounds the loop's lifetime alongside Stop.
func (sc *Scheduler) Start(parent context.Context) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	sc.cancel = cancel
	go sc.loop(ctx)
	sc.logger.Info("Scheduler started", zap.Duration("interval", sc.interval))
	return true
}

// Stop halts the loop. Returns false when not running. An in-flight
// attempt is cancelled through its context.
func (sc *Scheduler) Stop() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancel == nil {
		return false
	}
	sc.cancel()
	sc.cancel = nil
	sc.logger.Info("Scheduler stopped")
	return true
}

// Running reports whether the loop is active.
func (sc *Scheduler) Running() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cancel != nil
}

func (sc *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.runOnce(ctx)
		}
	}
}

func (sc *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sc.logger.Info("Unattended login attempt starting")
	if err := sc.attempt(ctx); err != nil {
		sc.logger.Error("Unattended login attempt failed", zap.Error(err))
		return
	}
	sc.logger.Info("Unattended login attempt reached code prompt")
}
