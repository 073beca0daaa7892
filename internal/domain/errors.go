package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for session and step lifecycle violations. These are
// protocol errors: surfaced immediately to the caller, never retried.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrMaxStepsExceeded = errors.New("maximum steps exceeded")
	ErrSessionTerminal  = errors.New("session already terminal")
	ErrApprovalDenied   = errors.New("approval denied")
	ErrUnknownAction    = errors.New("unknown action")
)

// RateLimitError reports an exhausted rate window. Recoverable: the
// caller may retry after Wait.
type RateLimitError struct {
	Category string
	Wait     time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, wait %d seconds", e.Category, int(e.Wait.Seconds()+0.999))
}

// UnsafeCommandError reports a command the sanitizer refused. Fail
// closed: the command must not be executed.
type UnsafeCommandError struct {
	Command  string
	Warnings []string
}

func (e *UnsafeCommandError) Error() string {
	return "unsafe command: " + strings.Join(e.Warnings, ", ")
}

// Error codes used in outbound result envelopes.
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeStepNotFound      = "STEP_NOT_FOUND"
	CodeMaxStepsExceeded  = "MAX_STEPS_EXCEEDED"
	CodeSessionTerminal   = "SESSION_ALREADY_TERMINAL"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeUnsafeCommand     = "UNSAFE_COMMAND"
	CodeApprovalDenied    = "APPROVAL_DENIED"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeExecutionError    = "EXECUTION_ERROR"
)

// ErrorCode maps an error to its envelope code. Unrecognized errors are
// execution errors by definition: they escaped a collaborator.
func ErrorCode(err error) string {
	var rateErr *RateLimitError
	var unsafeErr *UnsafeCommandError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrStepNotFound):
		return CodeStepNotFound
	case errors.Is(err, ErrMaxStepsExceeded):
		return CodeMaxStepsExceeded
	case errors.Is(err, ErrSessionTerminal):
		return CodeSessionTerminal
	case errors.Is(err, ErrApprovalDenied):
		return CodeApprovalDenied
	case errors.Is(err, ErrUnknownAction):
		return CodeUnknownAction
	case errors.As(err, &rateErr):
		return CodeRateLimitExceeded
	case errors.As(err, &unsafeErr):
		return CodeUnsafeCommand
	default:
		return CodeExecutionError
	}
}
