package goGuard

import (
	"errors"
	"net/http"
)

// Error classes. Every error returned by Guard matches exactly one of
// these through errors.Is.
var (
	// ErrValidation marks malformed or rejected input (400).
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited marks rate, device and login limits (429).
	ErrRateLimited = errors.New("rate limited")
	// ErrForbidden marks CSRF failures and blocked clients (403).
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable marks shared store failures on paths that fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConfiguration marks a configuration that must not start (fatal at Build).
	ErrConfiguration = errors.New("invalid configuration")
)

type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }

func newClassError(class error, msg string) error {
	return &classError{msg: msg, class: class}
}

var (
	// ErrDeviceLimitExceeded is returned by RegisterDevice once a device has
	// registered too often from one IP.
	ErrDeviceLimitExceeded = newClassError(ErrRateLimited, "device limit exceeded")
	// ErrLoginLocked is returned while a login identity is locked out.
	ErrLoginLocked = newClassError(ErrRateLimited, "login attempts exceeded")
	// ErrCSRFInvalid is returned for a missing, forged or expired CSRF token.
	ErrCSRFInvalid = newClassError(ErrForbidden, "csrf token invalid")
	// ErrThreatDetected is returned when input matches an injection signature.
	ErrThreatDetected = newClassError(ErrForbidden, "threat detected")
	// ErrIPBlocked is returned for requests from a blocklisted IP.
	ErrIPBlocked = newClassError(ErrForbidden, "ip blocked")
	// ErrVerificationInvalid is returned for a wrong, expired or unknown code.
	ErrVerificationInvalid = newClassError(ErrValidation, "verification code invalid")
	// ErrVerificationAttempts is returned once a code was discarded after too many guesses.
	ErrVerificationAttempts = newClassError(ErrRateLimited, "verification attempts exceeded")
	// ErrWeakSecret is returned by Build when a signing or encryption secret is too short.
	ErrWeakSecret = newClassError(ErrConfiguration, "secret must be at least 32 characters")
)

// Public messages. They never echo the detected pattern or the limit that
// tripped.
const (
	MessageRateLimited  = "too many requests, please try again later"
	MessageCSRF         = "request validation failed, please retry"
	MessageInvalidInput = "invalid input"
	MessageForbidden    = "access denied"
	MessageInvalidCode  = "invalid or expired code"
	MessageInternal     = "internal server error"
)

// StatusCode maps err to an HTTP status. Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrThreatDetected):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the generic user-facing message for err.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return MessageRateLimited
	case errors.Is(err, ErrCSRFInvalid):
		return MessageCSRF
	case errors.Is(err, ErrThreatDetected):
		return MessageInvalidInput
	case errors.Is(err, ErrForbidden):
		return MessageForbidden
	case errors.Is(err, ErrVerificationInvalid):
		return MessageInvalidCode
	case errors.Is(err, ErrValidation):
		return MessageInvalidInput
	default:
		return MessageInternal
	}
}
