package export

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/config"
	"github.com/prateekraj3711-alt/PwC/internal/session"
)

func testExportConfig(baseURL string) config.ExportConfig {
	return config.ExportConfig{
		BaseURL:       baseURL,
		Cooldown:      time.Millisecond,
		Attempts:      3,
		RetryDelay:    time.Millisecond,
		HealthTimeout: 100 * time.Millisecond,
		WakeDelay:     time.Millisecond,
		ExportTimeout: time.Second,
	}
}

func testHandoff(t *testing.T, baseURL string) (*Handoff, *session.SnapshotStore) {
	t.Helper()
	ss, err := session.NewSnapshotStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	h := NewHandoff(context.Background(), testExportConfig(baseURL), ss, zap.NewNop())
	h.sleep = func(ctx context.Context, d time.Duration) {}
	return h, ss
}

func saveSnapshot(t *testing.T, ss *session.SnapshotStore, id string) {
	t.Helper()
	require.NoError(t, ss.Save(id, &schemas.StorageState{
		Cookies: []schemas.Cookie{{Name: "ESTSAUTH", Value: "v", Domain: ".idp.example"}},
	}))
}

func TestHandoffDeliversSessionID(t *testing.T) {
	var gotBody map[string]string
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "uptime": 1})
		case "/export-dashboard":
			exports.Add(1)
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	h, ss := testHandoff(t, srv.URL)
	saveSnapshot(t, ss, "sess-1")

	require.NoError(t, h.Run(context.Background(), "sess-1"))
	assert.Equal(t, int32(1), exports.Load())
	assert.Equal(t, "sess-1", gotBody["session_id"])
}

func TestHandoffRetriesOn5xxThenSucceeds(t *testing.T) {
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export-dashboard" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if exports.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, ss := testHandoff(t, srv.URL)
	saveSnapshot(t, ss, "sess-1")

	require.NoError(t, h.Run(context.Background(), "sess-1"))
	assert.Equal(t, int32(3), exports.Load())
}

func TestHandoffNeverRetries4xx(t *testing.T) {
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/export-dashboard" {
			exports.Add(1)
			http.Error(w, "bad spreadsheet id", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, ss := testHandoff(t, srv.URL)
	saveSnapshot(t, ss, "sess-1")

	err := h.Run(context.Background(), "sess-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, int32(1), exports.Load(), "a 4xx is a configuration problem, not transient")
}

func TestHandoffExhaustsRetriesOn5xx(t *testing.T) {
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/export-dashboard" {
			exports.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, ss := testHandoff(t, srv.URL)
	saveSnapshot(t, ss, "sess-1")

	err := h.Run(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, int32(3), exports.Load())
}

func TestHandoffRetriesConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	h, ss := testHandoff(t, base)
	saveSnapshot(t, ss, "sess-1")

	err := h.Run(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
}

func TestHandoffRejectsNonObjectSnapshot(t *testing.T) {
	h, ss := testHandoff(t, "http://127.0.0.1:0")
	require.NoError(t, os.WriteFile(ss.Path("bad"), []byte(`"just a string"`), 0o600))

	err := h.Run(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrMalformedSnapshot)
}

func TestHandoffMissingSnapshot(t *testing.T) {
	h, _ := testHandoff(t, "http://127.0.0.1:0")
	err := h.Run(context.Background(), "ghost")
	assert.ErrorIs(t, err, session.ErrSnapshotNotFound)
}

// timeoutError mimics what the transport surfaces when a dial or read
// exceeds its deadline.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestRetryClassification(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"dns failure", &url.Error{
			Op:  "Post",
			URL: "https://no-such-host.invalid/export-dashboard",
			Err: &net.DNSError{Err: "no such host", Name: "no-such-host.invalid", IsNotFound: true},
		}, true},
		{"dial timeout", &url.Error{
			Op:  "Post",
			URL: "https://export.example/export-dashboard",
			Err: timeoutError{},
		}, true},
		{"context deadline", &url.Error{
			Op:  "Post",
			URL: "https://export.example/export-dashboard",
			Err: context.DeadlineExceeded,
		}, true},
		{"connection refused", &url.Error{
			Op:  "Post",
			URL: "https://export.example/export-dashboard",
			Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
		}, true},
		{"server error", &statusError{code: http.StatusBadGateway}, true},
		{"client error", &statusError{code: http.StatusNotFound}, false},
		{"unclassified", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retry, retryable(tc.err))
		})
	}
}

func TestScheduleDeliversAfterCooldown(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/export-dashboard" {
			select {
			case delivered <- struct{}{}:
			default:
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, ss := testHandoff(t, srv.URL)
	saveSnapshot(t, ss, "sess-1")

	var mu sync.Mutex
	var waits []time.Duration
	h.sleep = func(ctx context.Context, d time.Duration) {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
	}

	h.Schedule("sess-1")

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled hand-off never reached the export service")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, waits, h.cfg.Cooldown, "the cooldown must elapse before the hand-off runs")
}

func TestScheduleCancelledDuringCooldown(t *testing.T) {
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/export-dashboard" {
			exports.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ss, err := session.NewSnapshotStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	h := NewHandoff(ctx, testExportConfig(srv.URL), ss, zap.NewNop())
	h.sleep = func(ctx context.Context, d time.Duration) {}
	saveSnapshot(t, ss, "sess-1")

	cancel()
	h.Schedule("sess-1")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, exports.Load(), "a shut-down process must not run pending hand-offs")
}

func TestHandoffProceedsWhenHealthProbeFails(t *testing.T) {
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/export-dashboard" {
			exports.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		// No /health route: probe sees a failure and treats the
		// service as possibly asleep.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h, ss := testHandoff(t, srv.URL)
	saveSnapshot(t, ss, "sess-1")

	require.NoError(t, h.Run(context.Background(), "sess-1"))
	assert.Equal(t, int32(1), exports.Load())
}
