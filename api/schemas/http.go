package schemas

// ErrorDetails pins a failure to the step of the login flow that produced
// it, so an operator can tell "the UI changed" apart from "the code was
// wrong" or "the session timed out".
type ErrorDetails struct {
	Step   string `json:"step,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the uniform failure envelope for every endpoint.
type ErrorResponse struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// StartLoginResponse is returned once the flow reaches the OTP prompt.
type StartLoginResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// CompleteLoginRequest carries the emailed one-time code. SessionID may be
// omitted, in which case the latest session is used.
type CompleteLoginRequest struct {
	SessionID string `json:"session_id,omitempty"`
	OTP       string `json:"otp"`
}

// CompleteLoginResponse is returned after a verified login.
type CompleteLoginResponse struct {
	OK               bool     `json:"ok"`
	Message          string   `json:"message"`
	Cookies          []Cookie `json:"cookies"`
	ScreenshotBase64 string   `json:"screenshot_base64,omitempty"`
	Signals          []string `json:"signals,omitempty"`
}

// DeleteResponse reports the outcome of a session deletion sweep.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// HealthResponse reports liveness with uptime in whole seconds.
type HealthResponse struct {
	OK     bool  `json:"ok"`
	Uptime int64 `json:"uptime"`
}

// LatestSessionResponse exposes the latest-session pointer.
type LatestSessionResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id"`
}

// TicketResponse acknowledges a queued wrapper call.
type TicketResponse struct {
	OK       bool   `json:"ok"`
	TicketID string `json:"ticket_id"`
}

// ScheduleResponse reports the scheduler toggle outcome.
type ScheduleResponse struct {
	OK      bool   `json:"ok"`
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
}
