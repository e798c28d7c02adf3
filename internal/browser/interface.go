// Package browser wraps the chromedp engine behind small capability
// interfaces: navigate, locate an element by predicate, click, fill, read
// cookies, screenshot, wait for a condition. The login flow is written
// against these interfaces so it can be exercised without a real browser.
package browser

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
)

var (
	// ErrNotFound indicates no candidate matched an attached, visible element.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout indicates a bounded wait elapsed with no condition matching.
	ErrTimeout = errors.New("wait timed out")
)

// Candidate is one selector hypothesis for locating a control. The target
// portal's markup varies by release and A/B cohort, so every lookup is
// declared as a priority-ordered list of candidates rather than one query.
type Candidate struct {
	// Name tags the hypothesis in logs and failure diagnostics.
	Name string
	// Query is a CSS selector evaluated within a single frame's document.
	Query string
}

// Element is a located control, bound to the frame that matched it.
type Element interface {
	// Candidate returns the hypothesis that matched.
	Candidate() Candidate
	// Frame returns the frame the element lives in.
	Frame() Frame
	// Visible re-checks that the element is still attached and visible.
	Visible(ctx context.Context) (bool, error)
	// Enabled reports whether the element accepts interaction (not
	// disabled and not aria-disabled).
	Enabled(ctx context.Context) (bool, error)
	// Fill focuses the element and replaces its value.
	Fill(ctx context.Context, value string) error
	// Click clicks the element.
	Click(ctx context.Context) error
}

// Frame is one document in the page: the main document or a nested iframe.
type Frame interface {
	// Name identifies the frame for diagnostics ("main", iframe URL, ...).
	Name() string
	// Find returns the first attached and visible element matching the
	// candidate, or ErrNotFound. It does not wait.
	Find(ctx context.Context, c Candidate) (Element, error)
	// ClickByText runs a scripted search of the frame's document for a
	// clickable control whose visible text matches the pattern and invokes
	// it directly. Returns whether anything was clicked.
	ClickByText(ctx context.Context, pattern *regexp.Regexp) (bool, error)
	// ContainsText reports whether the frame's visible text matches.
	ContainsText(ctx context.Context, pattern *regexp.Regexp) (bool, error)
}

// Page is one isolated browser context with a single page in it.
type Page interface {
	// Navigate loads the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Frames enumerates the main document followed by all nested frames.
	// The slice is rebuilt on every call; frames come and go as the login
	// UI progresses.
	Frames(ctx context.Context) ([]Frame, error)
	// MainFrame returns the top-level document.
	MainFrame() Frame
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// BodyText returns the page's visible text content.
	BodyText(ctx context.Context) (string, error)
	// Cookies returns all cookies visible to the browser context.
	Cookies(ctx context.Context) ([]schemas.Cookie, error)
	// StorageState captures cookies plus the current origin's localStorage.
	StorageState(ctx context.Context) (*schemas.StorageState, error)
	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// WaitNetworkIdle blocks until no request has been in flight for the
	// quiet period, or the context expires.
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	// Close tears down the browser context. Safe to call more than once.
	Close(ctx context.Context) error
}

// Engine creates isolated pages. Implemented by Manager; faked in tests.
type Engine interface {
	// NewPage opens a fresh browser context, optionally seeded with a
	// previously captured storage state.
	NewPage(ctx context.Context, state *schemas.StorageState) (Page, error)
}
