package login

import (
	"regexp"

	"github.com/prateekraj3711-alt/PwC/internal/browser"
)

// Selector candidate sets for the identity provider's login UI. The markup
// shifts between releases and A/B cohorts, so each control is declared as a
// priority-ordered list of independent hypotheses: specific ids first,
// semantic attributes next, generic element types last. Adding a newly
// observed variant is a data change here, not a control-flow change.

var identityCandidates = []browser.Candidate{
	{Name: "aad-loginfmt", Query: `input[name="loginfmt"]`},
	{Name: "aad-i0116", Query: `#i0116`},
	{Name: "email-autocomplete", Query: `input[autocomplete="username"]`},
	{Name: "email-type", Query: `input[type="email"]`},
	{Name: "username-name", Query: `input[name="username"], input[name="email"], input[name="userid"]`},
	{Name: "text-placeholder", Query: `input[type="text"][placeholder*="mail" i], input[type="text"][placeholder*="user" i]`},
}

var advanceCandidates = []browser.Candidate{
	{Name: "aad-next", Query: `#idSIButton9`},
	{Name: "submit-next", Query: `input[type="submit"][value*="Next" i], button[type="submit"]`},
	{Name: "button-next-text", Query: `button[id*="next" i], button[class*="next" i]`},
}

var secretCandidates = []browser.Candidate{
	{Name: "aad-passwd", Query: `input[name="passwd"]`},
	{Name: "aad-i0118", Query: `#i0118`},
	{Name: "password-autocomplete", Query: `input[autocomplete="current-password"]`},
	{Name: "password-type", Query: `input[type="password"]`},
}

var submitCandidates = []browser.Candidate{
	{Name: "aad-signin", Query: `#idSIButton9`},
	{Name: "submit-input", Query: `input[type="submit"]`},
	{Name: "submit-button", Query: `button[type="submit"]`},
	{Name: "signin-text", Query: `button[id*="signin" i], button[class*="signin" i], button[class*="login" i]`},
}

var emailChannelCandidates = []browser.Candidate{
	{Name: "aad-email-proof", Query: `div[data-value="OneWayEmail"], div[data-value="TwoWayEmail"]`},
	{Name: "proof-email-text", Query: `#idDiv_SAOTCS_Proofs div[role="button"][aria-label*="mail" i]`},
	{Name: "email-radio", Query: `input[type="radio"][value*="mail" i]`},
	{Name: "email-option", Query: `[id*="email" i][role="button"], label[for*="email" i]`},
}

var sendCodeCandidates = []browser.Candidate{
	{Name: "aad-send-code", Query: `#idDiv_SAOTCS_SendCode, input[value*="Send" i][type="submit"]`},
	{Name: "send-button", Query: `button[id*="send" i], button[class*="send" i]`},
	{Name: "send-submit", Query: `input[type="submit"]`},
}

var otpCandidates = []browser.Candidate{
	{Name: "aad-otc", Query: `input[name="otc"]`},
	{Name: "aad-otc-id", Query: `#idTxtBx_SAOTCC_OTC`},
	{Name: "otp-autocomplete", Query: `input[autocomplete="one-time-code"]`},
	{Name: "otp-placeholder", Query: `input[placeholder*="code" i]`},
	{Name: "otp-aria", Query: `input[aria-label*="code" i]`},
	{Name: "otp-name", Query: `input[name*="otp" i], input[name*="code" i], input[id*="otp" i], input[id*="code" i]`},
	{Name: "otp-inputmode", Query: `input[inputmode="numeric"], input[type="tel"]`},
}

var otpSubmitCandidates = []browser.Candidate{
	{Name: "aad-verify", Query: `#idSubmit_SAOTCC_Continue, #idSIButton9`},
	{Name: "verify-submit", Query: `input[type="submit"], button[type="submit"]`},
	{Name: "verify-text", Query: `button[id*="verify" i], button[id*="submit" i], button[class*="verify" i]`},
}

var dashboardMarkerCandidates = []browser.Candidate{
	{Name: "data-table", Query: `table, [role="table"], [role="grid"]`},
	{Name: "dashboard-container", Query: `#dashboard, .dashboard, [class*="dashboard" i]`},
	{Name: "dashboard-heading", Query: `h1, h2, [class*="welcome" i]`},
}

// sendCodePattern matches "send ... code" affordances for the page-wide
// scripted fallback when no frame yields a clickable send button.
var sendCodePattern = regexp.MustCompile(`send\s+.*code`)

// channelPromptPattern recognizes the MFA channel-choice screen, used to
// distinguish a silently failed send step from a missing code field.
var channelPromptPattern = regexp.MustCompile(`(?i)(how\s+.*\s+(code|verify)|verify your identity|choose a (way|method))`)

// loginVocabulary flags pages that still look like a login prompt when the
// success battery checks body text.
var loginVocabulary = regexp.MustCompile(`(?i)(sign\s*in|log\s*in|password|verification code|enter code)`)

// authCookiePattern recognizes cookie names that suggest an authenticated
// portal session.
var authCookiePattern = regexp.MustCompile(`(?i)(auth|token|session|\.aspxauth|estsauth|sid)`)
