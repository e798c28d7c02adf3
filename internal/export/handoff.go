// Package export forwards a completed login's snapshot to the downstream
// export service. The hand-off is fully decoupled from the HTTP request
// that produced the snapshot: it runs after a cooldown, retries bounded,
// and on exhaustion only logs.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/config"
	"github.com/prateekraj3711-alt/PwC/internal/session"
)

var (
	// ErrDownstreamUnavailable indicates the export call exhausted its
	// retry budget.
	ErrDownstreamUnavailable = errors.New("export service unavailable")
	// ErrMalformedSnapshot indicates the persisted snapshot is not a
	// structured object.
	ErrMalformedSnapshot = errors.New("snapshot is not a structured object")
)

// Handoff schedules and runs export calls against the downstream service.
type Handoff struct {
	baseCtx   context.Context
	cfg       config.ExportConfig
	snapshots *session.SnapshotStore
	logger    *zap.Logger
	client    *http.Client

	// sleep is swappable so tests do not wait out real delays.
	sleep func(ctx context.Context, d time.Duration)
}

// NewHandoff builds the hand-off runner. The context bounds every
// scheduled hand-off, so process shutdown cancels pending ones. The shared
// client carries no timeout of its own; each call sets a per-request
// context deadline.
func NewHandoff(ctx context.Context, cfg config.ExportConfig, snapshots *session.SnapshotStore, logger *zap.Logger) *Handoff {
	return &Handoff{
		baseCtx:   ctx,
		cfg:       cfg,
		snapshots: snapshots,
		logger:    logger.Named("export"),
		client:    &http.Client{},
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Schedule queues the hand-off to run after the export cooldown. The
// cooldown exists because the automation browser's session ended without a
// sign-out, intentionally, and the provider needs time to register that
// before the downstream service reuses the cookies.
func (h *Handoff) Schedule(sessionID string) {
	h.logger.Info("Export hand-off scheduled",
		zap.String("session_id", sessionID),
		zap.Duration("cooldown", h.cfg.Cooldown))
	go func() {
		h.sleep(h.baseCtx, h.cfg.Cooldown)
		if h.baseCtx.Err() != nil {
			h.logger.Info("Export hand-off cancelled during cooldown",
				zap.String("session_id", sessionID))
			return
		}
		if err := h.Run(h.baseCtx, sessionID); err != nil {
			h.logger.Error("Export hand-off failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// Run performs one hand-off: snapshot validation, liveness probe, export
// call with retries. The returned error is for logs and tests only; it
// never reaches an HTTP caller.
func (h *Handoff) Run(ctx context.Context, sessionID string) error {
	raw, err := h.snapshots.LoadRaw(sessionID)
	if err != nil {
		return fmt.Errorf("loading snapshot for hand-off: %w", err)
	}
	if err := validateSnapshot(raw); err != nil {
		return err
	}

	h.probeHealth(ctx)

	var lastErr error
	for attempt := 1; attempt <= h.cfg.Attempts; attempt++ {
		err := h.export(ctx, sessionID)
		if err == nil {
			h.logger.Info("Export hand-off delivered",
				zap.String("session_id", sessionID), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		if !retryable(err) {
			h.logger.Error("Export rejected, not retrying",
				zap.String("session_id", sessionID), zap.Error(err))
			return err
		}
		h.logger.Warn("Export attempt failed",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", h.cfg.Attempts),
			zap.Error(err))
		if attempt < h.cfg.Attempts {
			h.sleep(ctx, h.cfg.RetryDelay)
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrDownstreamUnavailable, h.cfg.Attempts, lastErr)
}

// validateSnapshot rejects snapshots that deserialize to a bare string or
// array; only a structured object can be a storage state.
func validateSnapshot(raw []byte) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		return fmt.Errorf("%w: got %T", ErrMalformedSnapshot, decoded)
	}
	return nil
}

// probeHealth checks the downstream liveness endpoint with a short timeout.
// A failure means the service may be asleep on its free-tier host; the
// hand-off pauses briefly and proceeds anyway.
func (h *Handoff) probeHealth(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, h.cfg.BaseURL+"/health", nil)
	if err != nil {
		h.logger.Warn("Health probe request build failed", zap.Error(err))
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Info("Export service may be asleep, proceeding after wake delay", zap.Error(err))
		h.sleep(ctx, h.cfg.WakeDelay)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		h.logger.Info("Export service health degraded, proceeding after wake delay",
			zap.Int("status", resp.StatusCode))
		h.sleep(ctx, h.cfg.WakeDelay)
		return
	}
	h.logger.Debug("Export service healthy")
}

// statusError marks a non-2xx export response so the retry classifier can
// split 5xx from 4xx.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("export returned %d: %s", e.code, e.body)
}

func (h *Handoff) export(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.ExportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		h.cfg.BaseURL+"/export-dashboard", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &statusError{code: resp.StatusCode, body: string(body)}
}

// retryable classifies transient failures: timeouts, connection refused,
// name resolution, 5xx. A 4xx is a configuration problem and never retried.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
