package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
)

// chromePage implements Page on top of a dedicated chromedp context.
type chromePage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	manager     *Manager
	id          string
	logger      *zap.Logger
	closeStatus int32 // 0 = open, 1 = closed

	// In-flight request tracking for WaitNetworkIdle.
	netMu          sync.Mutex
	activeRequests int
	lastActivity   time.Time

	// Cached chromedp contexts for out-of-process iframe targets.
	frameMu   sync.Mutex
	frameCtxs map[target.ID]context.Context
}

func newChromePage(ctx context.Context, cancel context.CancelFunc, m *Manager, id string, logger *zap.Logger) *chromePage {
	p := &chromePage{
		ctx:          ctx,
		cancel:       cancel,
		manager:      m,
		id:           id,
		logger:       logger.Named("page").With(zap.String("page_id", id)),
		lastActivity: time.Now(),
		frameCtxs:    make(map[target.ID]context.Context),
	}
	p.setupListeners()
	return p
}

// setupListeners tracks request activity so WaitNetworkIdle can observe
// quiescence without polling the browser.
func (p *chromePage) setupListeners() {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			p.trackActivity(1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			p.trackActivity(-1)
		}
	})
}

func (p *chromePage) trackActivity(delta int) {
	p.netMu.Lock()
	defer p.netMu.Unlock()
	p.activeRequests += delta
	if p.activeRequests < 0 {
		p.activeRequests = 0
	}
	p.lastActivity = time.Now()
}

// seedStorageState installs cookies and localStorage from a persisted
// snapshot before the first real navigation. localStorage is applied via a
// script evaluated on every new document, since storage is only writable
// from within its own origin.
func (p *chromePage) seedStorageState(ctx context.Context, state *schemas.StorageState) error {
	if len(state.Cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(state.Cookies))
		for _, c := range state.Cookies {
			cp := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.Expires > 0 {
				expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				cp.Expires = &expiry
			}
			switch strings.ToLower(c.SameSite) {
			case "lax":
				cp.SameSite = network.CookieSameSiteLax
			case "strict":
				cp.SameSite = network.CookieSameSiteStrict
			case "none":
				cp.SameSite = network.CookieSameSiteNone
			}
			params = append(params, cp)
		}
		if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		})); err != nil {
			return fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		items, err := json.Marshal(origin.LocalStorage)
		if err != nil {
			return fmt.Errorf("failed to encode localStorage seed: %w", err)
		}
		script := fmt.Sprintf(`(() => {
            if (location.origin !== %q) { return; }
            for (const item of %s) {
                try { localStorage.setItem(item.name, item.value); } catch (e) {}
            }
        })();`, origin.Origin, string(items))
		if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		})); err != nil {
			return fmt.Errorf("failed to install localStorage seed: %w", err)
		}
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

// actionContext derives a context cancelled by either the operation context
// or the page's lifecycle.
func (p *chromePage) actionContext(opCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return runCtx, cancel
}

func (p *chromePage) MainFrame() Frame {
	return &chromeFrame{page: p, ctx: p.ctx, name: "main"}
}

// Frames returns the main document first, then same-process iframes
// (reached through their content documents), then out-of-process iframe
// targets. The login UI under automation moves controls between frames
// across releases, so every lookup walks all of them.
func (p *chromePage) Frames(ctx context.Context) ([]Frame, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()

	frames := []Frame{p.MainFrame()}

	// Same-process iframes: query the iframe elements and descend into
	// their content documents.
	var iframeNodes []*cdp.Node
	err := chromedp.Run(runCtx, chromedp.Nodes("iframe", &iframeNodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate iframes: %w", err)
	}
	for _, node := range iframeNodes {
		if err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return dom.RequestChildNodes(node.NodeID).WithDepth(-1).Do(ctx)
		})); err != nil {
			continue
		}
		if node.ContentDocument == nil {
			continue
		}
		attrs := attributeMap(node)
		frames = append(frames, &chromeFrame{
			page:      p,
			ctx:       p.ctx,
			root:      node.ContentDocument,
			iframeSrc: attrs["src"],
			name:      "iframe:" + attrs["src"],
		})
	}

	// Out-of-process iframes surface as separate targets.
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	for _, info := range infos {
		if info.Type != "iframe" {
			continue
		}
		frames = append(frames, &chromeFrame{
			page: p,
			ctx:  p.frameContext(info.TargetID),
			name: "frame:" + info.URL,
		})
	}
	return frames, nil
}

// frameContext returns a chromedp context attached to an iframe target,
// cached so repeated Frames calls do not leak contexts.
func (p *chromePage) frameContext(id target.ID) context.Context {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	if ctx, ok := p.frameCtxs[id]; ok {
		return ctx
	}
	ctx, _ := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
	p.frameCtxs[id] = ctx
	return ctx
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()
	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (p *chromePage) BodyText(ctx context.Context) (string, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()
	var text string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return text, nil
}

func (p *chromePage) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()
	var raw []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (p *chromePage) StorageState(ctx context.Context) (*schemas.StorageState, error) {
	cookies, err := p.Cookies(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := p.actionContext(ctx)
	defer cancel()
	var origin string
	var items []schemas.LocalStorageItem
	err = chromedp.Run(runCtx,
		chromedp.Evaluate(`location.origin`, &origin),
		chromedp.Evaluate(`(() => {
            const out = [];
            try {
                for (let i = 0; i < localStorage.length; i++) {
                    const name = localStorage.key(i);
                    out.push({name: name, value: localStorage.getItem(name)});
                }
            } catch (e) {}
            return out;
        })()`, &items),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read localStorage: %w", err)
	}

	state := &schemas.StorageState{Cookies: cookies, Origins: []schemas.OriginState{}}
	if origin != "" && origin != "null" && len(items) > 0 {
		state.Origins = append(state.Origins, schemas.OriginState{Origin: origin, LocalStorage: items})
	}
	return state, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := p.actionContext(ctx)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-ticker.C:
			p.netMu.Lock()
			active := p.activeRequests
			sinceLast := time.Since(p.lastActivity)
			p.netMu.Unlock()
			if active == 0 && sinceLast >= quiet {
				return nil
			}
		}
	}
}

func (p *chromePage) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.closeStatus, 0, 1) {
		return nil
	}
	p.logger.Debug("Closing page")
	if p.manager != nil {
		p.manager.unregister(p.id)
	}
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// chromeFrame is one document reachable within a page. For the main
// document and OOPIF targets, root is nil and queries run against the
// frame's own target context. For same-process iframes, root points at the
// iframe's content document and queries are scoped with FromNode.
type chromeFrame struct {
	page      *chromePage
	ctx       context.Context
	root      *cdp.Node
	iframeSrc string
	name      string
}

func (f *chromeFrame) Name() string { return f.name }

func (f *chromeFrame) queryOpts() []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if f.root != nil {
		opts = append(opts, chromedp.FromNode(f.root))
	}
	return opts
}

// Find returns the first attached, visible match for the candidate.
func (f *chromeFrame) Find(ctx context.Context, c Candidate) (Element, error) {
	runCtx, cancel := f.page.actionContext(ctx)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(c.Query, &nodes, f.queryOpts()...)); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", c.Query, err)
	}
	for _, node := range nodes {
		el := &chromeElement{frame: f, node: node, candidate: c}
		visible, err := el.Visible(ctx)
		if err != nil {
			continue
		}
		if visible {
			return el, nil
		}
	}
	return nil, ErrNotFound
}

// frameDocJS builds a JS expression yielding this frame's document from
// whatever execution context the evaluation runs in.
func (f *chromeFrame) frameDocJS() string {
	if f.root == nil {
		return "document"
	}
	// Same-process (same-origin) iframe: reach through the parent document.
	return fmt.Sprintf(`(() => {
        for (const frame of document.querySelectorAll('iframe')) {
            if (frame.getAttribute('src') === %q) {
                try { return frame.contentDocument; } catch (e) { return null; }
            }
        }
        return null;
    })()`, f.iframeSrc)
}

func (f *chromeFrame) ClickByText(ctx context.Context, pattern *regexp.Regexp) (bool, error) {
	runCtx, cancel := f.page.actionContext(ctx)
	defer cancel()

	script := fmt.Sprintf(`(() => {
        const doc = %s;
        if (!doc) { return false; }
        const re = new RegExp(%q, "i");
        const nodes = doc.querySelectorAll('button, a, input[type=submit], input[type=button], [role=button]');
        for (const el of nodes) {
            const text = (el.innerText || el.value || el.getAttribute('aria-label') || "").trim();
            if (!re.test(text)) { continue; }
            const rect = el.getBoundingClientRect();
            if (rect.width === 0 || rect.height === 0) { continue; }
            el.click();
            return true;
        }
        return false;
    })()`, f.frameDocJS(), pattern.String())

	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("scripted click failed: %w", err)
	}
	return clicked, nil
}

func (f *chromeFrame) ContainsText(ctx context.Context, pattern *regexp.Regexp) (bool, error) {
	runCtx, cancel := f.page.actionContext(ctx)
	defer cancel()

	script := fmt.Sprintf(`(() => {
        const doc = %s;
        if (!doc || !doc.body) { return ""; }
        return doc.body.innerText;
    })()`, f.frameDocJS())

	var text string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &text)); err != nil {
		return false, fmt.Errorf("failed to read frame text: %w", err)
	}
	return pattern.MatchString(text), nil
}

// chromeElement is a located node bound to its frame.
type chromeElement struct {
	frame     *chromeFrame
	node      *cdp.Node
	candidate Candidate
}

func (e *chromeElement) Candidate() Candidate { return e.candidate }
func (e *chromeElement) Frame() Frame         { return e.frame }

// Visible checks that the node still renders with a non-zero box.
func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	runCtx, cancel := e.frame.page.actionContext(ctx)
	defer cancel()

	var visible bool
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			// A node with no box model is detached or not rendered.
			visible = false
			return nil
		}
		visible = box != nil && box.Width > 0 && box.Height > 0
		return nil
	}))
	if err != nil {
		return false, fmt.Errorf("visibility check failed: %w", err)
	}
	return visible, nil
}

func (e *chromeElement) Enabled(ctx context.Context) (bool, error) {
	runCtx, cancel := e.frame.page.actionContext(ctx)
	defer cancel()

	var attrs []string
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		attrs, err = dom.GetAttributes(e.node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return false, fmt.Errorf("failed to read attributes: %w", err)
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		switch attrs[i] {
		case "disabled":
			return false, nil
		case "aria-disabled":
			if strings.EqualFold(attrs[i+1], "true") {
				return false, nil
			}
		}
	}
	return true, nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	runCtx, cancel := e.frame.page.actionContext(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click on %s failed: %w", e.candidate.Name, err)
	}
	return nil
}

// Fill focuses the element, clears any existing value and types the new
// one through the input domain so the page sees real key events.
func (e *chromeElement) Fill(ctx context.Context, value string) error {
	runCtx, cancel := e.frame.page.actionContext(ctx)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.MouseClickNode(e.node),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Select-all then delete clears without JS access to the
			// frame's document.
			if err := input.DispatchKeyEvent(input.KeyDown).
				WithKey("a").WithCode("KeyA").
				WithModifiers(input.ModifierCtrl).Do(ctx); err != nil {
				return err
			}
			if err := input.DispatchKeyEvent(input.KeyUp).
				WithKey("a").WithCode("KeyA").
				WithModifiers(input.ModifierCtrl).Do(ctx); err != nil {
				return err
			}
			if err := input.DispatchKeyEvent(input.KeyDown).
				WithKey("Delete").WithCode("Delete").Do(ctx); err != nil {
				return err
			}
			if err := input.DispatchKeyEvent(input.KeyUp).
				WithKey("Delete").WithCode("Delete").Do(ctx); err != nil {
				return err
			}
			return input.InsertText(value).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("fill on %s failed: %w", e.candidate.Name, err)
	}
	return nil
}

// attributeMap converts a node's attribute slice into a map.
func attributeMap(node *cdp.Node) map[string]string {
	attrs := make(map[string]string)
	for i := 0; i+1 < len(node.Attributes); i += 2 {
		attrs[node.Attributes[i]] = node.Attributes[i+1]
	}
	return attrs
}
