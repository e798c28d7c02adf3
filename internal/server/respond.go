package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/jobs"
	"github.com/prateekraj3711-alt/PwC/internal/login"
	"github.com/prateekraj3711-alt/PwC/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details *schemas.ErrorDetails) {
	writeJSON(w, status, schemas.ErrorResponse{OK: false, Error: msg, Details: details})
}

// reasonMessages keeps failure wording stable for callers that match on it.
var reasonMessages = map[login.FailureReason]string{
	login.ReasonConfiguration:    "Portal credentials not configured",
	login.ReasonFieldNotFound:    "Required element not found",
	login.ReasonMFASelection:     "MFA channel selection failed",
	login.ReasonMFASendNotClick:  "Code send not confirmed",
	login.ReasonOTPFieldNotFound: "Code entry field not found",
	login.ReasonLoginIncomplete:  "Login incomplete",
	login.ReasonTimeout:          "Step timed out",
}

func mapError(w http.ResponseWriter, err error) {
	var se *login.StepError
	switch {
	case errors.As(err, &se):
		msg := reasonMessages[se.Reason]
		if msg == "" {
			msg = se.Error()
		}
		writeError(w, http.StatusBadGateway, msg, &schemas.ErrorDetails{
			Step:   se.Step,
			Reason: string(se.Reason),
		})
	case errors.Is(err, login.ErrNoCredentials):
		writeError(w, http.StatusInternalServerError,
			reasonMessages[login.ReasonConfiguration],
			&schemas.ErrorDetails{Reason: string(login.ReasonConfiguration)})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, session.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, "Session not found", nil)
	case errors.Is(err, ErrMissingOTP):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, jobs.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}
