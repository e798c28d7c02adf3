package login

import (
	"errors"
	"fmt"
)

// FailureReason classifies terminal login failures so an operator can tell
// a changed UI apart from a wrong code or an expired session.
type FailureReason string

const (
	ReasonConfiguration    FailureReason = "configuration"
	ReasonFieldNotFound    FailureReason = "field-not-found"
	ReasonMFASelection     FailureReason = "mfa-selection"
	ReasonMFASendNotClick  FailureReason = "mfa-send-not-clicked"
	ReasonOTPFieldNotFound FailureReason = "otp-field-not-found"
	ReasonLoginIncomplete  FailureReason = "login-incomplete"
	ReasonTimeout          FailureReason = "timeout"
)

// ErrNoCredentials indicates the credential pair is absent from the
// environment. Fatal to the attempt, not to the process.
var ErrNoCredentials = errors.New("portal credentials not configured")

// StepError is a terminal state-machine failure tagged with the step that
// produced it.
type StepError struct {
	Step   string
	Reason FailureReason
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at step %q: %v", e.Reason, e.Step, e.Err)
	}
	return fmt.Sprintf("%s at step %q", e.Reason, e.Step)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, reason FailureReason, err error) *StepError {
	return &StepError{Step: step, Reason: reason, Err: err}
}

// ReasonOf extracts the failure classification from an error chain,
// defaulting to login-incomplete for untagged failures.
func ReasonOf(err error) FailureReason {
	var se *StepError
	if errors.As(err, &se) {
		return se.Reason
	}
	if errors.Is(err, ErrNoCredentials) {
		return ReasonConfiguration
	}
	return ReasonLoginIncomplete
}

// StepOf extracts the failing step tag, if any.
func StepOf(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
