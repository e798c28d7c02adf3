package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/config"
)

// Sweeper reclaims expired sessions and stale snapshots on a fixed
// interval, independent of request traffic.
type Sweeper struct {
	cfg       config.SessionConfig
	store     *Store
	snapshots *SnapshotStore
	logger    *zap.Logger
}

// NewSweeper wires the periodic cleanup over the store and snapshot store.
func NewSweeper(cfg config.SessionConfig, store *Store, snapshots *SnapshotStore, logger *zap.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, store: store, snapshots: snapshots, logger: logger.Named("sweeper")}
}

// Run blocks until the context is cancelled, sweeping every cleanup
// interval. Meant to be started as a goroutine at service boot.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep performs one cleanup pass: expired sessions lose their context and
// snapshot, and snapshots past the age cutoff are evicted even when no
// in-memory session remains for them.
func (sw *Sweeper) Sweep(ctx context.Context) {
	expired := sw.store.SweepExpired(ctx)
	for _, id := range expired {
		if err := sw.snapshots.Delete(id); err != nil {
			sw.logger.Warn("Expired snapshot delete failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	evicted, err := sw.snapshots.EvictOlderThan(sw.cfg.SnapshotMaxAge)
	if err != nil {
		sw.logger.Warn("Snapshot eviction pass failed", zap.Error(err))
		return
	}
	if len(expired) > 0 || evicted > 0 {
		sw.logger.Info("Cleanup pass",
			zap.Int("sessions_expired", len(expired)),
			zap.Int("snapshots_evicted", evicted))
	}
}
