package login

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/browser"
)

// Minimum body length for the weakest signal; shorter pages are interstitials
// or error screens, not a rendered dashboard.
const minDashboardBody = 200

// verifySuccess runs the ordered success battery and stops at the first
// passing signal. Checks run strongest first: landing URL, dashboard
// content marker, auth-suggestive cookie, substantial non-login body text.
// The returned strings record every check that ran and its verdict, so a
// failed attempt explains itself.
func (m *Machine) verifySuccess(ctx context.Context, page browser.Page, log *zap.Logger) ([]string, bool) {
	var signals []string
	record := func(name string, passed bool, detail string) bool {
		verdict := "fail"
		if passed {
			verdict = "pass"
		}
		signals = append(signals, fmt.Sprintf("%s: %s (%s)", name, verdict, detail))
		log.Debug("Success signal evaluated",
			zap.String("signal", name), zap.Bool("passed", passed), zap.String("detail", detail))
		return passed
	}

	current, err := page.CurrentURL(ctx)
	if err != nil {
		record("url-contains-domain", false, err.Error())
	} else if record("url-contains-domain", strings.Contains(current, m.cfg.Portal.Domain), current) {
		return signals, true
	}

	markerCtx, cancel := context.WithTimeout(ctx, 3*m.markerTimeout)
	marker, err := m.resolver.Locate(markerCtx, page, dashboardMarkerCandidates, m.markerTimeout)
	cancel()
	if err != nil {
		record("content-marker", false, "no dashboard element found")
	} else if record("content-marker", true, marker.Candidate().Name) {
		return signals, true
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		record("auth-cookie", false, err.Error())
	} else if name, ok := m.authCookie(cookies); record("auth-cookie", ok, name) && ok {
		return signals, true
	}

	body, err := page.BodyText(ctx)
	if err != nil {
		record("body-text", false, err.Error())
		return signals, false
	}
	body = strings.TrimSpace(body)
	switch {
	case len(body) < minDashboardBody:
		record("body-text", false, fmt.Sprintf("only %d chars rendered", len(body)))
	case loginVocabulary.MatchString(body):
		record("body-text", false, "page still uses login vocabulary")
	default:
		record("body-text", true, fmt.Sprintf("%d chars without login vocabulary", len(body)))
		return signals, true
	}
	return signals, false
}

// authCookie reports the first cookie whose name suggests an authenticated
// session or whose domain belongs to the portal.
func (m *Machine) authCookie(cookies []schemas.Cookie) (string, bool) {
	for _, c := range cookies {
		if authCookiePattern.MatchString(c.Name) || strings.Contains(c.Domain, m.cfg.Portal.Domain) {
			return c.Name, true
		}
	}
	return "no auth-suggestive cookie", false
}
