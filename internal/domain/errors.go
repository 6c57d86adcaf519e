package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced consultation, call or user does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden means the caller is authenticated but not a party to the entity.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is an invalid state transition. Wrapped messages name the current state.
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("invalid input")
	// ErrContentBlocked is the sentinel behind ContentBlockedError.
	ErrContentBlocked = errors.New("content blocked")
	// ErrTrialExpired rejects sends after the free trial ended without payment.
	ErrTrialExpired = errors.New("trial expired")
	ErrUpstream     = errors.New("upstream failure")
)

// TrialExpiredMessage is shown verbatim to a sender whose trial ran out.
const TrialExpiredMessage = "Your free trial has ended. Please complete payment to continue this consultation."

// ContentBlockedError carries the moderation verdict back to the sender.
type ContentBlockedError struct {
	Reason   string
	Category string
}

func (e *ContentBlockedError) Error() string {
	if e.Reason == "" {
		return ErrContentBlocked.Error()
	}
	return e.Reason
}

func (e *ContentBlockedError) Unwrap() error { return ErrContentBlocked }

// Conflictf builds a conflict error that names the current state.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Code maps an error onto the taxonomy code shared by the HTTP and connection paths.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrContentBlocked):
		return "CONTENT_BLOCKED"
	case errors.Is(err, ErrTrialExpired):
		return "TRIAL_EXPIRED"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}

// PublicMessage is the text a client may see for err. Internal failures are masked.
func PublicMessage(err error) string {
	switch Code(err) {
	case "INTERNAL_ERROR":
		return "internal server error"
	case "TRIAL_EXPIRED":
		return TrialExpiredMessage
	default:
		return err.Error()
	}
}
