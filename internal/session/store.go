// Package session owns the in-memory session table, the on-disk snapshot
// store, and the isolation sweep that enforces the upstream provider's
// single-concurrent-session constraint.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/browser"
	"github.com/prateekraj3711-alt/PwC/internal/config"
)

// Session is one in-progress login attempt bound to a live browser context.
// The embedded mutex serializes handler access: no two callers may drive the
// same browser context concurrently.
type Session struct {
	ID        string
	Page      browser.Page
	CreatedAt time.Time

	mu sync.Mutex
	// expires holds unix nanos; atomic so Touch never contends with a
	// handler holding the session lock.
	expires atomic.Int64
}

// Lock grants exclusive access for the duration of one handler call.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// ExpiresAt returns the current expiry.
func (s *Session) ExpiresAt() time.Time {
	return time.Unix(0, s.expires.Load())
}

// NewID mints an opaque session id.
func NewID() string { return uuid.New().String() }

// Store is the process-scoped session table with TTL expiry and a
// latest-session pointer.
type Store struct {
	logger *zap.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	latest   string
}

// NewStore creates an empty session table.
func NewStore(cfg config.SessionConfig, logger *zap.Logger) *Store {
	return &Store{
		logger:   logger.Named("sessions"),
		ttl:      cfg.TTL,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session around an open page and makes it the
// latest. The id is assigned by the caller, which needs it before the
// session exists for attempt-scoped diagnostics; NewID is the generator.
func (st *Store) Create(id string, page browser.Page) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		Page:      page,
		CreatedAt: now,
	}
	s.expires.Store(now.Add(st.ttl).UnixNano())
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.latest = s.ID
	st.mu.Unlock()

	st.logger.Info("Session created", zap.String("session_id", s.ID))
	return s
}

// Get returns a live, unexpired session. Expired entries read as missing;
// the sweep reclaims them.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok || time.Now().After(s.ExpiresAt()) {
		return nil, false
	}
	return s, true
}

// LatestID returns the latest-session pointer. The pointed-at session may
// already have left the table; its snapshot can still exist on disk.
func (st *Store) LatestID() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest
}

// Touch refreshes a session's expiry after a successful operation.
func (st *Store) Touch(id string) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return
	}
	s.expires.Store(time.Now().Add(st.ttl).UnixNano())
}

// Remove takes a session out of the table without closing its page. Used
// when completion succeeds and the page has already been closed by the
// caller.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Delete closes the session's browser context best-effort and removes the
// entry. Close errors are ignored by contract.
func (st *Store) Delete(ctx context.Context, id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.Page.Close(ctx); err != nil {
		st.logger.Debug("Session close failed", zap.String("session_id", id), zap.Error(err))
	}
	st.logger.Info("Session deleted", zap.String("session_id", id))
	return true
}

// All snapshots the current table contents.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Clear empties the table and the latest pointer, returning the removed
// sessions. Pages are not closed here; the isolation sweep owns that.
func (st *Store) Clear() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.sessions = make(map[string]*Session)
	st.latest = ""
	return out
}

// SweepExpired closes and removes every session past its expiry. Returns
// the ids reclaimed so the caller can drop their snapshots too.
func (st *Store) SweepExpired(ctx context.Context) []string {
	now := time.Now()
	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if now.After(s.ExpiresAt()) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		if err := s.Page.Close(ctx); err != nil {
			st.logger.Debug("Expired session close failed", zap.String("session_id", s.ID), zap.Error(err))
		}
		ids = append(ids, s.ID)
		st.logger.Info("Session expired", zap.String("session_id", s.ID))
	}
	return ids
}
