package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/config"
)

// Manager owns the browser executable via a chromedp ExecAllocator and
// creates isolated browser contexts from it. One Manager serves the whole
// process; each login session gets its own context (its own cookie jar).
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// Track open pages for graceful shutdown.
	pages map[string]*chromePage
	mu    sync.Mutex
}

var _ Engine = (*Manager)(nil)

// NewManager creates and initializes the browser manager.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[string]*chromePage),
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("ignore_tls_errors", cfg.IgnoreTLSErrors),
	)
	return m
}

// allocatorOptions configures the flags for the browser executable.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if m.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// The identity provider rejects obviously automated browsers.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability flags for containerized environments.
		chromedp.NoSandbox,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),

		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
	)

	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	for _, arg := range m.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	return opts
}

// NewPage opens a fresh, isolated browser context. When state is non-nil
// its cookies and localStorage are seeded before the first navigation, so
// the context resumes the persisted authentication without repeating the
// login UI flow.
func (m *Manager) NewPage(ctx context.Context, state *schemas.StorageState) (Page, error) {
	// The tab parents off the allocator, not the caller: a session's
	// page must outlive the HTTP request that opened it and is closed
	// explicitly through Page.Close or Shutdown.
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// Initialize the browser connection.
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize browser context: %w", err)
	}

	id := uuid.New().String()
	p := newChromePage(tabCtx, cancel, m, id, m.logger)

	if state != nil {
		if err := p.seedStorageState(tabCtx, state); err != nil {
			p.Close(context.Background())
			return nil, fmt.Errorf("failed to seed storage state: %w", err)
		}
	}

	m.mu.Lock()
	m.pages[id] = p
	m.mu.Unlock()

	return p, nil
}

// unregister removes a page from the tracking map. Called by chromePage.Close.
func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
}

// Shutdown gracefully terminates all open pages and the browser process.
func (m *Manager) Shutdown(ctx context.Context) {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	open := make([]*chromePage, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.pages = make(map[string]*chromePage)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range open {
		wg.Add(1)
		go func(p *chromePage) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := p.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing page during shutdown", zap.String("page_id", p.id), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
}
