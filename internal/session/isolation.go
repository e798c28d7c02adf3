package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/config"
)

// Isolator enforces the upstream provider's single-concurrent-session
// constraint before a new login begins: sign out every live session,
// close every context, drop every snapshot, clear the table, then hold a
// cooldown so the provider's server-side session state can propagate.
type Isolator struct {
	cfg        config.SessionConfig
	signOutURL string
	store      *Store
	snapshots  *SnapshotStore
	logger     *zap.Logger
}

// NewIsolator wires the isolation sweep over the store and snapshot store.
func NewIsolator(cfg config.SessionConfig, portal config.PortalConfig, store *Store, snapshots *SnapshotStore, logger *zap.Logger) *Isolator {
	return &Isolator{
		cfg:        cfg,
		signOutURL: portal.SignOutURL,
		store:      store,
		snapshots:  snapshots,
		logger:     logger.Named("isolation"),
	}
}

// SweepReport summarizes one isolation sweep.
type SweepReport struct {
	SessionsClosed   int
	SnapshotsDeleted int
	Errors           int
}

// Sweep runs the full isolation procedure. Sign-out navigations run
// concurrently with a bounded per-session timeout; close errors are
// best-effort by contract. When anything was live, the call blocks for the
// configured cooldown before returning, so the caller may start the new
// login immediately after.
func (iso *Isolator) Sweep(ctx context.Context) SweepReport {
	sessions := iso.store.Clear()
	report := SweepReport{SessionsClosed: len(sessions)}

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		errCnt int
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			signCtx, cancel := context.WithTimeout(ctx, iso.cfg.SignOutTimeout)
			defer cancel()
			if err := s.Page.Navigate(signCtx, iso.signOutURL); err != nil {
				iso.logger.Debug("Sign-out navigation failed",
					zap.String("session_id", s.ID), zap.Error(err))
				errMu.Lock()
				errCnt++
				errMu.Unlock()
			}
			if err := s.Page.Close(signCtx); err != nil {
				iso.logger.Debug("Context close failed",
					zap.String("session_id", s.ID), zap.Error(err))
			}
		}(s)
	}
	wg.Wait()
	report.Errors = errCnt

	deleted, err := iso.snapshots.DeleteAll()
	if err != nil {
		iso.logger.Warn("Snapshot cleanup failed during sweep", zap.Error(err))
		report.Errors++
	}
	report.SnapshotsDeleted = deleted

	iso.logger.Info("Isolation sweep complete",
		zap.Int("sessions_closed", report.SessionsClosed),
		zap.Int("snapshots_deleted", report.SnapshotsDeleted),
		zap.Int("errors", report.Errors))

	// The provider tracks concurrent-session state server-side with
	// observed propagation delay. Nothing was live means nothing to
	// propagate, so the wait is skipped.
	if report.SessionsClosed > 0 || report.SnapshotsDeleted > 0 {
		iso.logger.Info("Holding isolation cooldown",
			zap.Duration("cooldown", iso.cfg.IsolationCooldown))
		select {
		case <-ctx.Done():
		case <-time.After(iso.cfg.IsolationCooldown):
		}
	}
	return report
}
