// Package login drives an automated browser through the portal's
// credentials + emailed one-time-code flow. The flow is a two-phase state
// machine: Start runs NavigatingToLogin through AwaitingCode and pauses;
// Complete is a separate entry point that submits the caller-supplied code
// and verifies the outcome.
package login

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/browser"
	"github.com/prateekraj3711-alt/PwC/internal/config"
)

const (
	// Per-candidate budget while resolving a required field.
	defaultFieldTimeout = 5 * time.Second
	// Optional affordances get a short budget; their absence is normal.
	defaultOptionalTimeout = 2 * time.Second
	// Total budget for the one-time-code field to appear after the send
	// step.
	defaultAwaitCodeTimeout = 30 * time.Second
	// Disabled send buttons are re-checked this many times at 1s.
	defaultSendEnablePolls = 10
	// Bounded wait for network quiescence before classifying success.
	quiesceTimeout = 30 * time.Second
	quietPeriod    = 2 * time.Second
)

// Machine executes the login flow against a Page. It does not own the page:
// the caller opens it, and on any error the caller must close it.
type Machine struct {
	cfg      *config.Config
	logger   *zap.Logger
	resolver *browser.Resolver

	fieldTimeout     time.Duration
	optionalTimeout  time.Duration
	awaitCodeTimeout time.Duration
	sendEnablePolls  int
	enablePollEvery  time.Duration
	markerTimeout    time.Duration
}

// NewMachine creates a login state machine.
func NewMachine(cfg *config.Config, logger *zap.Logger) *Machine {
	return &Machine{
		cfg:              cfg,
		logger:           logger.Named("login"),
		resolver:         browser.NewResolver(logger),
		fieldTimeout:     defaultFieldTimeout,
		optionalTimeout:  defaultOptionalTimeout,
		awaitCodeTimeout: defaultAwaitCodeTimeout,
		sendEnablePolls:  defaultSendEnablePolls,
		enablePollEvery:  time.Second,
		markerTimeout:    time.Second,
	}
}

// Result carries the evidence collected by the success battery.
type Result struct {
	Signals []string
}

// Start drives the flow from navigation through the one-time-code prompt.
// On return the page sits at the code-entry screen and the caller persists
// the pre-OTP snapshot. Terminal failures come back as *StepError with a
// diagnostic screenshot already written.
func (m *Machine) Start(ctx context.Context, page browser.Page, sessionID string) error {
	if !m.cfg.HasCredentials() {
		return ErrNoCredentials
	}
	log := m.logger.With(zap.String("session_id", sessionID))

	if err := m.navigateToLogin(ctx, page, log); err != nil {
		return m.fail(ctx, page, sessionID, err)
	}
	if err := m.enterCredentials(ctx, page, log); err != nil {
		return m.fail(ctx, page, sessionID, err)
	}
	if err := m.selectMfaChannel(ctx, page, log); err != nil {
		return m.fail(ctx, page, sessionID, err)
	}
	if err := m.awaitCode(ctx, page, log); err != nil {
		return m.fail(ctx, page, sessionID, err)
	}

	log.Info("Login paused at code prompt, awaiting OTP")
	return nil
}

// Complete is the second entry point: it fills the previously reached (or
// re-resolved, if the session was reconstructed from a snapshot) code field
// and classifies the outcome with the success-signal battery.
func (m *Machine) Complete(ctx context.Context, page browser.Page, sessionID, code string) (*Result, error) {
	log := m.logger.With(zap.String("session_id", sessionID))

	if err := m.submitCode(ctx, page, code, log); err != nil {
		return nil, m.fail(ctx, page, sessionID, err)
	}

	// Bounded settle; a slow backend must not fail the classification
	// outright.
	quiesceCtx, cancel := context.WithTimeout(ctx, quiesceTimeout)
	if err := page.WaitNetworkIdle(quiesceCtx, quietPeriod); err != nil {
		log.Debug("Network did not quiesce before verification", zap.Error(err))
	}
	cancel()

	signals, ok := m.verifySuccess(ctx, page, log)
	if !ok {
		err := stepErr("verify-success", ReasonLoginIncomplete,
			fmt.Errorf("no success signal matched: %v", signals))
		return nil, m.fail(ctx, page, sessionID, err)
	}

	log.Info("Login verified", zap.Strings("signals", signals))
	return &Result{Signals: signals}, nil
}

// navigateToLogin loads the identity-provider URL with a fresh anti-replay
// state token and transitions unconditionally to credential entry.
func (m *Machine) navigateToLogin(ctx context.Context, page browser.Page, log *zap.Logger) error {
	loginURL := m.cfg.Portal.LoginURL
	token := uuid.New().String()
	sep := "?"
	if containsQuery(loginURL) {
		sep = "&"
	}
	target := loginURL + sep + "state=" + token

	log.Info("Navigating to login", zap.String("url", m.cfg.Portal.LoginURL))
	if err := page.Navigate(ctx, target); err != nil {
		return stepErr("navigate", ReasonTimeout, err)
	}
	return nil
}

// enterCredentials resolves and fills the identity field, optionally
// advances past an identity-then-password split screen, then fills the
// secret and submits. Any resolution failure is terminal with the failing
// field in the step tag.
func (m *Machine) enterCredentials(ctx context.Context, page browser.Page, log *zap.Logger) error {
	identity, err := m.resolver.Locate(ctx, page, identityCandidates, m.fieldTimeout)
	if err != nil {
		return stepErr("identity-field", ReasonFieldNotFound, err)
	}
	if err := m.resolver.Fill(ctx, identity, m.cfg.Portal.Username); err != nil {
		return stepErr("identity-field", ReasonFieldNotFound, err)
	}
	log.Debug("Identity filled", zap.String("candidate", identity.Candidate().Name))

	// Two-screen flows put the password behind an advance affordance;
	// single-screen flows have none. Best-effort.
	if advance, err := m.resolver.Locate(ctx, page, advanceCandidates, m.optionalTimeout); err == nil {
		if err := m.resolver.Click(ctx, advance); err != nil {
			log.Debug("Advance click failed, continuing", zap.Error(err))
		} else {
			m.settle(ctx, page)
		}
	}

	secret, err := m.resolver.Locate(ctx, page, secretCandidates, m.fieldTimeout)
	if err != nil {
		return stepErr("secret-field", ReasonFieldNotFound, err)
	}
	if err := m.resolver.Fill(ctx, secret, m.cfg.Portal.Password); err != nil {
		return stepErr("secret-field", ReasonFieldNotFound, err)
	}

	submit, err := m.resolver.Locate(ctx, page, submitCandidates, m.fieldTimeout)
	if err != nil {
		return stepErr("submit-button", ReasonFieldNotFound, err)
	}
	if err := m.resolver.Click(ctx, submit); err != nil {
		return stepErr("submit-button", ReasonFieldNotFound, err)
	}

	log.Info("Credentials submitted")
	m.settle(ctx, page)
	return nil
}

// selectMfaChannel handles the optional channel-choice screen. Every
// attempt is best-effort because the UI may skip straight to the code
// prompt; failure is terminal only when a channel screen was detected and
// nothing could be clicked.
func (m *Machine) selectMfaChannel(ctx context.Context, page browser.Page, log *zap.Logger) error {
	sawChannelUI := false
	clicked := false

	if prompt, err := page.MainFrame().ContainsText(ctx, channelPromptPattern); err == nil && prompt {
		sawChannelUI = true
	}

	if option, err := m.resolver.Locate(ctx, page, emailChannelCandidates, m.optionalTimeout); err == nil {
		sawChannelUI = true
		if err := m.resolver.Click(ctx, option); err != nil {
			log.Debug("Email channel click failed", zap.Error(err))
		} else {
			log.Info("Email delivery channel selected")
			m.settle(ctx, page)
		}
	}

	// Try a send-code affordance in every frame; a disabled button gets a
	// bounded enable-poll before that frame is given up on.
	frames, err := page.Frames(ctx)
	if err != nil {
		return stepErr("mfa-channel", ReasonMFASelection, err)
	}
	for _, frame := range frames {
		if clicked {
			break
		}
		for _, c := range sendCodeCandidates {
			el, err := frame.Find(ctx, c)
			if err != nil {
				continue
			}
			sawChannelUI = true
			if !m.waitEnabled(ctx, el) {
				log.Debug("Send button stayed disabled",
					zap.String("frame", frame.Name()), zap.String("candidate", c.Name))
				continue
			}
			if err := m.resolver.Click(ctx, el); err != nil {
				log.Debug("Send click failed", zap.String("frame", frame.Name()), zap.Error(err))
				continue
			}
			log.Info("Send-code clicked", zap.String("frame", frame.Name()), zap.String("candidate", c.Name))
			clicked = true
			break
		}
	}

	// Page-wide scripted fallback: invoke any control whose visible text
	// matches "send ... code".
	if !clicked {
		ok, err := page.MainFrame().ClickByText(ctx, sendCodePattern)
		if err != nil {
			log.Debug("Scripted send-code search failed", zap.Error(err))
		}
		if ok {
			log.Info("Send-code clicked via scripted fallback")
			clicked = true
		}
	}

	if sawChannelUI && !clicked {
		return stepErr("mfa-channel", ReasonMFASelection,
			errors.New("channel screen present but no send affordance could be clicked"))
	}
	return nil
}

// waitEnabled polls a disabled element up to sendEnablePolls times at 1s.
func (m *Machine) waitEnabled(ctx context.Context, el browser.Element) bool {
	for i := 0; i < m.sendEnablePolls; i++ {
		enabled, err := el.Enabled(ctx)
		if err != nil {
			return false
		}
		if enabled {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.enablePollEvery):
		}
	}
	return false
}

// awaitCode polls for a code-entry field with a plausible submit affordance
// visible nearby or page-wide. A timeout while the channel-choice prompt is
// still showing means the send step silently failed, which is a distinct
// reason from a missing code field.
func (m *Machine) awaitCode(ctx context.Context, page browser.Page, log *zap.Logger) error {
	matched, err := m.resolver.WaitForAny(ctx, []browser.Condition{
		{
			Name: "otp-field",
			Check: func(ctx context.Context) (bool, error) {
				field, err := m.resolver.Locate(ctx, page, otpCandidates, 0)
				if err != nil {
					return false, nil
				}
				return m.hasSubmitAffordance(ctx, page, field), nil
			},
		},
	}, m.awaitCodeTimeout)
	if err == nil && matched == "otp-field" {
		log.Info("Code prompt reached")
		return nil
	}
	if err != nil && !errors.Is(err, browser.ErrTimeout) {
		return stepErr("awaiting-code", ReasonTimeout, err)
	}

	if prompt, perr := page.MainFrame().ContainsText(ctx, channelPromptPattern); perr == nil && prompt {
		return stepErr("awaiting-code", ReasonMFASendNotClick,
			errors.New("channel-choice prompt still showing, send step silently failed"))
	}
	return stepErr("awaiting-code", ReasonOTPFieldNotFound, browser.ErrTimeout)
}

// hasSubmitAffordance looks for a submit control, first in the frame that
// holds the code field, then page-wide.
func (m *Machine) hasSubmitAffordance(ctx context.Context, page browser.Page, field browser.Element) bool {
	for _, c := range otpSubmitCandidates {
		if _, err := field.Frame().Find(ctx, c); err == nil {
			return true
		}
	}
	if _, err := m.resolver.Locate(ctx, page, otpSubmitCandidates, 0); err == nil {
		return true
	}
	return false
}

// submitCode fills the (re-)resolved code field and clicks a submit
// affordance, frame-scoped first, page-wide second.
func (m *Machine) submitCode(ctx context.Context, page browser.Page, code string, log *zap.Logger) error {
	field, err := m.resolver.Locate(ctx, page, otpCandidates, m.fieldTimeout)
	if err != nil {
		return stepErr("otp-field", ReasonOTPFieldNotFound, err)
	}
	if err := m.resolver.Fill(ctx, field, code); err != nil {
		return stepErr("otp-field", ReasonFieldNotFound, err)
	}
	log.Debug("Code filled", zap.String("candidate", field.Candidate().Name))

	for _, c := range otpSubmitCandidates {
		el, err := field.Frame().Find(ctx, c)
		if err != nil {
			continue
		}
		if err := m.resolver.Click(ctx, el); err == nil {
			log.Info("Code submitted", zap.String("candidate", c.Name), zap.String("scope", "frame"))
			return nil
		}
	}
	el, err := m.resolver.Locate(ctx, page, otpSubmitCandidates, m.fieldTimeout)
	if err != nil {
		return stepErr("otp-submit", ReasonFieldNotFound, err)
	}
	if err := m.resolver.Click(ctx, el); err != nil {
		return stepErr("otp-submit", ReasonFieldNotFound, err)
	}
	log.Info("Code submitted", zap.String("candidate", el.Candidate().Name), zap.String("scope", "page"))
	return nil
}

// settle gives the page a short bounded chance to quiesce between steps.
func (m *Machine) settle(ctx context.Context, page browser.Page) {
	settleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = page.WaitNetworkIdle(settleCtx, time.Second)
}

// fail captures a full-page diagnostic screenshot for a terminal failure.
// Closing the browser context is the caller's contract.
func (m *Machine) fail(ctx context.Context, page browser.Page, sessionID string, err error) error {
	step := StepOf(err)
	m.logger.Error("Login step failed",
		zap.String("session_id", sessionID),
		zap.String("step", step),
		zap.String("reason", string(ReasonOf(err))),
		zap.Error(err))

	shotCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shot, shotErr := page.Screenshot(shotCtx)
	if shotErr != nil {
		m.logger.Warn("Diagnostic screenshot failed", zap.Error(shotErr))
		return err
	}
	dir := m.cfg.Session.ScreenshotDir
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		m.logger.Warn("Could not create screenshot dir", zap.Error(mkErr))
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", sessionID, step))
	if wErr := os.WriteFile(path, shot, 0o644); wErr != nil {
		m.logger.Warn("Could not write screenshot", zap.Error(wErr))
		return err
	}
	m.logger.Info("Diagnostic screenshot written", zap.String("path", path))
	return err
}

func containsQuery(url string) bool {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return true
		}
	}
	return false
}
