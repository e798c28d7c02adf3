// Package server exposes the login automation over a JSON HTTP API and
// hosts the orchestration between the isolation sweep, the login state
// machine, the session store, and the export hand-off.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/browser"
	"github.com/prateekraj3711-alt/PwC/internal/config"
	"github.com/prateekraj3711-alt/PwC/internal/export"
	"github.com/prateekraj3711-alt/PwC/internal/login"
	"github.com/prateekraj3711-alt/PwC/internal/session"
)

var (
	// ErrSessionNotFound indicates the caller referenced an unknown or
	// expired session with no snapshot to recover from.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMissingOTP indicates a completion request without a code.
	ErrMissingOTP = errors.New("otp is required")
)

// Service carries a login attempt end to end. Both the HTTP handlers and
// the unattended scheduler drive it.
type Service struct {
	cfg       *config.Config
	logger    *zap.Logger
	engine    browser.Engine
	machine   *login.Machine
	store     *session.Store
	snapshots *session.SnapshotStore
	isolator  *session.Isolator
	handoff   *export.Handoff
}

// NewService wires the orchestration layer.
func NewService(
	cfg *config.Config,
	logger *zap.Logger,
	engine browser.Engine,
	machine *login.Machine,
	store *session.Store,
	snapshots *session.SnapshotStore,
	isolator *session.Isolator,
	handoff *export.Handoff,
) *Service {
	return &Service{
		cfg:       cfg,
		logger:    logger.Named("service"),
		engine:    engine,
		machine:   machine,
		store:     store,
		snapshots: snapshots,
		isolator:  isolator,
		handoff:   handoff,
	}
}

// StartLogin enforces isolation, opens a fresh context, and drives the
// state machine through the code prompt. On success the session is
// registered and the pre-OTP snapshot persisted.
func (svc *Service) StartLogin(ctx context.Context) (*schemas.StartLoginResponse, error) {
	svc.isolator.Sweep(ctx)

	page, err := svc.engine.NewPage(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("opening browser context: %w", err)
	}

	id := session.NewID()
	if err := svc.machine.Start(ctx, page, id); err != nil {
		// No failure leaks an open context.
		_ = page.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	svc.store.Create(id, page)
	svc.persistSnapshot(ctx, id, page)

	return &schemas.StartLoginResponse{OK: true, SessionID: id, Message: "Awaiting OTP"}, nil
}

// CompleteLogin submits the emailed code against the session's paused
// context, reconstructing the context from the on-disk snapshot when the
// in-memory session is gone (process restart between the two calls).
func (svc *Service) CompleteLogin(ctx context.Context, req schemas.CompleteLoginRequest) (*schemas.CompleteLoginResponse, error) {
	if req.OTP == "" {
		return nil, ErrMissingOTP
	}
	id, err := svc.resolveSessionID(req.SessionID)
	if err != nil {
		return nil, err
	}

	var page browser.Page
	if sess, ok := svc.store.Get(id); ok {
		sess.Lock()
		defer sess.Unlock()
		// Refresh the expiry: OTP verification can outlast the remaining
		// TTL, and the sweep must not close the page mid-completion.
		svc.store.Touch(id)
		page = sess.Page
	} else {
		page, err = svc.reconstruct(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	result, err := svc.machine.Complete(ctx, page, id, req.OTP)
	if err != nil {
		// Terminal completion failure: context closed, session and
		// snapshot dropped.
		cleanupCtx := context.WithoutCancel(ctx)
		_ = page.Close(cleanupCtx)
		svc.store.Remove(id)
		if derr := svc.snapshots.Delete(id); derr != nil {
			svc.logger.Warn("Snapshot delete after failed completion", zap.String("session_id", id), zap.Error(derr))
		}
		return nil, err
	}

	state, serr := page.StorageState(ctx)
	if serr != nil {
		svc.logger.Warn("Post-login storage state capture failed", zap.String("session_id", id), zap.Error(serr))
		state = &schemas.StorageState{}
	} else if err := svc.snapshots.Save(id, state); err != nil {
		svc.logger.Error("Post-login snapshot persist failed", zap.String("session_id", id), zap.Error(err))
	}

	var shotB64 string
	if shot, err := page.Screenshot(ctx); err == nil {
		shotB64 = base64.StdEncoding.EncodeToString(shot)
	} else {
		svc.logger.Debug("Post-login screenshot failed", zap.String("session_id", id), zap.Error(err))
	}

	// Closed without sign-out on purpose: signing out would invalidate
	// the cookies the downstream service needs.
	_ = page.Close(context.WithoutCancel(ctx))
	svc.store.Remove(id)
	svc.handoff.Schedule(id)

	return &schemas.CompleteLoginResponse{
		OK:               true,
		Message:          "Login complete",
		Cookies:          state.Cookies,
		ScreenshotBase64: shotB64,
		Signals:          result.Signals,
	}, nil
}

// resolveSessionID defaults a missing or "latest" id to the latest-session
// pointer, falling back to the newest snapshot on disk after a restart.
func (svc *Service) resolveSessionID(requested string) (string, error) {
	if requested != "" && requested != "latest" {
		return requested, nil
	}
	if id := svc.store.LatestID(); id != "" {
		return id, nil
	}
	id, err := svc.snapshots.LatestID()
	if err != nil {
		return "", ErrSessionNotFound
	}
	return id, nil
}

// reconstruct rebuilds an authenticated context from the persisted pre-OTP
// snapshot and returns it at the identity provider, ready for the state
// machine to re-resolve the code-entry screen.
func (svc *Service) reconstruct(ctx context.Context, id string) (browser.Page, error) {
	state, err := svc.snapshots.Load(id)
	if err != nil {
		if errors.Is(err, session.ErrSnapshotNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	svc.logger.Info("Reconstructing session from snapshot", zap.String("session_id", id))

	page, err := svc.engine.NewPage(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("reopening browser context: %w", err)
	}
	if err := page.Navigate(ctx, svc.cfg.Portal.LoginURL); err != nil {
		_ = page.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("re-navigating after reconstruction: %w", err)
	}
	return page, nil
}

// DeleteSession removes one session and its snapshot.
func (svc *Service) DeleteSession(ctx context.Context, id string) bool {
	deleted := svc.store.Delete(ctx, id)
	if err := svc.snapshots.Delete(id); err != nil {
		svc.logger.Warn("Snapshot delete failed", zap.String("session_id", id), zap.Error(err))
	} else if !deleted {
		// A snapshot can outlive its in-memory session.
		deleted = true
	}
	return deleted
}

// DeleteAll closes every live session and drops every snapshot. Unlike the
// isolation sweep it neither signs out nor holds the cooldown; it is an
// operator cleanup, not a login precondition.
func (svc *Service) DeleteAll(ctx context.Context) schemas.DeleteResponse {
	sessions := svc.store.Clear()
	resp := schemas.DeleteResponse{Deleted: len(sessions)}
	for _, s := range sessions {
		if err := s.Page.Close(ctx); err != nil {
			svc.logger.Debug("Close failed during delete-all", zap.String("session_id", s.ID), zap.Error(err))
			resp.Errors++
		}
	}
	if _, err := svc.snapshots.DeleteAll(); err != nil {
		svc.logger.Warn("Snapshot cleanup failed during delete-all", zap.Error(err))
		resp.Errors++
	}
	return resp
}

// LatestSessionID exposes the latest pointer, falling back to disk.
func (svc *Service) LatestSessionID() (string, bool) {
	if id := svc.store.LatestID(); id != "" {
		return id, true
	}
	id, err := svc.snapshots.LatestID()
	if err != nil {
		return "", false
	}
	return id, true
}

// persistSnapshot writes the pre-OTP snapshot; recovery degrades without
// it, so failure is logged, not fatal.
func (svc *Service) persistSnapshot(ctx context.Context, id string, page browser.Page) {
	state, err := page.StorageState(ctx)
	if err != nil {
		svc.logger.Warn("Pre-OTP storage state capture failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	if err := svc.snapshots.Save(id, state); err != nil {
		svc.logger.Warn("Pre-OTP snapshot persist failed", zap.String("session_id", id), zap.Error(err))
	}
}
