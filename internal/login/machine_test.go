package login

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/browser"
	"github.com/prateekraj3711-alt/PwC/internal/config"
)

// Fakes for the browser capability interfaces, so the state machine runs
// against scripted DOM states instead of a real Chrome.

type fakeElement struct {
	cand    browser.Candidate
	frame   *fakeFrame
	visible bool
	enabled bool
	fills   []string
	clicks  int
}

func (e *fakeElement) Candidate() browser.Candidate                      { return e.cand }
func (e *fakeElement) Frame() browser.Frame                              { return e.frame }
func (e *fakeElement) Visible(ctx context.Context) (bool, error)         { return e.visible, nil }
func (e *fakeElement) Enabled(ctx context.Context) (bool, error)         { return e.enabled, nil }
func (e *fakeElement) Click(ctx context.Context) error                   { e.clicks++; return nil }
func (e *fakeElement) Fill(ctx context.Context, value string) error {
	e.fills = append(e.fills, value)
	return nil
}

type fakeFrame struct {
	name          string
	els           map[string]*fakeElement
	text          string
	clickByText   bool
	textClicks    int
}

func (f *fakeFrame) Name() string { return f.name }

func (f *fakeFrame) Find(ctx context.Context, c browser.Candidate) (browser.Element, error) {
	el, ok := f.els[c.Query]
	if !ok || !el.visible {
		return nil, browser.ErrNotFound
	}
	el.cand = c
	el.frame = f
	return el, nil
}

func (f *fakeFrame) ClickByText(ctx context.Context, pattern *regexp.Regexp) (bool, error) {
	if f.clickByText {
		f.textClicks++
		return true, nil
	}
	return false, nil
}

func (f *fakeFrame) ContainsText(ctx context.Context, pattern *regexp.Regexp) (bool, error) {
	return pattern.MatchString(f.text), nil
}

type fakePage struct {
	frames    []*fakeFrame
	url       string
	body      string
	cookies   []schemas.Cookie
	navigated []string
	closed    bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Frames(ctx context.Context) ([]browser.Frame, error) {
	out := make([]browser.Frame, len(p.frames))
	for i, f := range p.frames {
		out[i] = f
	}
	return out, nil
}

func (p *fakePage) MainFrame() browser.Frame { return p.frames[0] }

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) { return p.url, nil }
func (p *fakePage) BodyText(ctx context.Context) (string, error)   { return p.body, nil }

func (p *fakePage) Cookies(ctx context.Context) ([]schemas.Cookie, error) { return p.cookies, nil }

func (p *fakePage) StorageState(ctx context.Context) (*schemas.StorageState, error) {
	return &schemas.StorageState{Cookies: p.cookies}, nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }

func (p *fakePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error { return nil }

func (p *fakePage) Close(ctx context.Context) error { p.closed = true; return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Portal: config.PortalConfig{
			LoginURL: "https://login.idp.example/authorize",
			Domain:   "portal.example.com",
			Username: "svc-account@example.com",
			Password: "hunter2",
		},
		Session: config.SessionConfig{ScreenshotDir: t.TempDir()},
	}
}

func testMachine(t *testing.T, cfg *config.Config) *Machine {
	t.Helper()
	m := NewMachine(cfg, zap.NewNop())
	m.resolver = browser.NewResolverWithPoll(zap.NewNop(), 5*time.Millisecond)
	m.fieldTimeout = 50 * time.Millisecond
	m.optionalTimeout = 20 * time.Millisecond
	m.awaitCodeTimeout = 200 * time.Millisecond
	m.sendEnablePolls = 2
	m.enablePollEvery = 5 * time.Millisecond
	m.markerTimeout = 20 * time.Millisecond
	return m
}

func element() *fakeElement { return &fakeElement{visible: true, enabled: true} }

// channelChoicePage builds a page whose DOM walks the whole flow: identity
// and password screens, the MFA channel chooser, and the code prompt.
func channelChoicePage() (*fakePage, map[string]*fakeElement) {
	els := map[string]*fakeElement{
		`input[name="loginfmt"]`: element(),
		`#idSIButton9`:           element(),
		`input[name="passwd"]`:   element(),
		`div[data-value="OneWayEmail"], div[data-value="TwoWayEmail"]`:    element(),
		`#idDiv_SAOTCS_SendCode, input[value*="Send" i][type="submit"]`:   element(),
		`input[name="otc"]`:                    element(),
		`#idSubmit_SAOTCC_Continue, #idSIButton9`: element(),
	}
	page := &fakePage{frames: []*fakeFrame{{
		name: "main",
		els:  els,
		text: "Verify your identity. We'll send a code to your email.",
	}}}
	return page, els
}

func TestStartReachesCodePromptThroughChannelChoice(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page, els := channelChoicePage()

	err := m.Start(context.Background(), page, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, []string{cfg.Portal.Username}, els[`input[name="loginfmt"]`].fills)
	assert.Equal(t, []string{cfg.Portal.Password}, els[`input[name="passwd"]`].fills)
	assert.GreaterOrEqual(t, els[`#idDiv_SAOTCS_SendCode, input[value*="Send" i][type="submit"]`].clicks, 1)
	require.Len(t, page.navigated, 1)
	assert.Contains(t, page.navigated[0], cfg.Portal.LoginURL+"?state=")
}

func TestStartWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Portal.Username = ""
	m := testMachine(t, cfg)
	page, _ := channelChoicePage()

	err := m.Start(context.Background(), page, "sess-1")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, ReasonConfiguration, ReasonOf(err))
}

func TestStartMissingSecretFieldIsTerminalWithScreenshot(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page := &fakePage{frames: []*fakeFrame{{
		name: "main",
		els:  map[string]*fakeElement{`input[name="loginfmt"]`: element()},
	}}}

	err := m.Start(context.Background(), page, "sess-2")
	require.Error(t, err)
	assert.Equal(t, ReasonFieldNotFound, ReasonOf(err))
	assert.Equal(t, "secret-field", StepOf(err))

	shot := filepath.Join(cfg.Session.ScreenshotDir, "sess-2-secret-field.png")
	_, statErr := os.Stat(shot)
	assert.NoError(t, statErr, "diagnostic screenshot should be written")
}

func TestStartChannelScreenWithNothingClickable(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page := &fakePage{frames: []*fakeFrame{{
		name: "main",
		els: map[string]*fakeElement{
			`input[name="loginfmt"]`: element(),
			`input[name="passwd"]`:   element(),
			`#idSIButton9`:           element(),
		},
		text: "Verify your identity",
	}}}

	err := m.Start(context.Background(), page, "sess-3")
	require.Error(t, err)
	assert.Equal(t, ReasonMFASelection, ReasonOf(err))
}

func TestStartSendClickedButPromptPersists(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	// The scripted fallback reports a click, but no code field ever
	// appears and the chooser text stays on screen.
	page := &fakePage{frames: []*fakeFrame{{
		name: "main",
		els: map[string]*fakeElement{
			`input[name="loginfmt"]`: element(),
			`input[name="passwd"]`:   element(),
			`#idSIButton9`:           element(),
		},
		text:        "Verify your identity",
		clickByText: true,
	}}}

	err := m.Start(context.Background(), page, "sess-4")
	require.Error(t, err)
	assert.Equal(t, ReasonMFASendNotClick, ReasonOf(err))
	assert.Equal(t, "awaiting-code", StepOf(err))
}

func TestStartCodeFieldNeverAppears(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	// No chooser screen at all: the flow skips MFA selection, then times
	// out waiting for the code prompt.
	page := &fakePage{frames: []*fakeFrame{{
		name: "main",
		els: map[string]*fakeElement{
			`input[name="loginfmt"]`: element(),
			`input[name="passwd"]`:   element(),
			`#idSIButton9`:           element(),
		},
		text: "One moment",
	}}}

	err := m.Start(context.Background(), page, "sess-5")
	require.Error(t, err)
	assert.Equal(t, ReasonOTPFieldNotFound, ReasonOf(err))
}

func codePromptPage() (*fakePage, map[string]*fakeElement) {
	els := map[string]*fakeElement{
		`input[name="otc"]`:                       element(),
		`#idSubmit_SAOTCC_Continue, #idSIButton9`: element(),
	}
	page := &fakePage{frames: []*fakeFrame{{name: "main", els: els}}}
	return page, els
}

func TestCompleteSucceedsOnPortalURL(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page, els := codePromptPage()
	page.url = "https://portal.example.com/dashboard"

	result, err := m.Complete(context.Background(), page, "sess-6", "123456")
	require.NoError(t, err)
	assert.Equal(t, []string{"123456"}, els[`input[name="otc"]`].fills)
	require.NotEmpty(t, result.Signals)
	assert.Contains(t, result.Signals[0], "url-contains-domain: pass")
}

func TestCompleteFallsThroughToAuthCookie(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page, _ := codePromptPage()
	page.url = "https://login.idp.example/processing"
	page.cookies = []schemas.Cookie{{Name: "ESTSAUTHPERSISTENT", Domain: ".idp.example"}}
	page.body = "Loading"

	result, err := m.Complete(context.Background(), page, "sess-7", "123456")
	require.NoError(t, err)
	require.Len(t, result.Signals, 3)
	assert.Contains(t, result.Signals[0], "url-contains-domain: fail")
	assert.Contains(t, result.Signals[1], "content-marker: fail")
	assert.Contains(t, result.Signals[2], "auth-cookie: pass")
}

func TestCompleteWrongCodeIsLoginIncomplete(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page, _ := codePromptPage()
	page.url = "https://login.idp.example/authorize"
	page.body = "The verification code is incorrect. Please sign in again."

	_, err := m.Complete(context.Background(), page, "sess-8", "000000")
	require.Error(t, err)
	assert.Equal(t, ReasonLoginIncomplete, ReasonOf(err))

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "verify-success", se.Step)
}

func TestCompleteWithoutCodeField(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page := &fakePage{frames: []*fakeFrame{{name: "main", els: map[string]*fakeElement{}}}}

	_, err := m.Complete(context.Background(), page, "sess-9", "123456")
	require.Error(t, err)
	assert.Equal(t, ReasonOTPFieldNotFound, ReasonOf(err))
}

func TestSubstantialBodyWithoutLoginVocabularyPasses(t *testing.T) {
	cfg := testConfig(t)
	m := testMachine(t, cfg)
	page, _ := codePromptPage()
	page.url = "https://somewhere.else.example/"
	long := make([]byte, 0, 400)
	for i := 0; i < 40; i++ {
		long = append(long, "compliance data "...)
	}
	page.body = string(long)

	result, err := m.Complete(context.Background(), page, "sess-10", "123456")
	require.NoError(t, err)
	assert.Contains(t, result.Signals[len(result.Signals)-1], "body-text: pass")
}
