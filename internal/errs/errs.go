package errs

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies the failure class a caller should react to.
type Code string

const (
	CodeSkip              Code = "SKIP"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeTransient         Code = "TRANSIENT"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeValidationFailure Code = "VALIDATION_FAILURE"
	CodeAlreadyInProgress Code = "ALREADY_IN_PROGRESS"
	CodeNotFound          Code = "NOT_FOUND"
)

// Error is the typed error carried across the scan and classification paths.
// RetryAfter is only meaningful for CodeRateLimited.
type Error struct {
	Code       Code          `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Skip marks a single malformed message; the scan continues past it.
func Skip(message string) *Error {
	return New(CodeSkip, message)
}

// RateLimited tells the caller to reschedule after the given duration
// instead of treating the job as failed.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limited, retry after %s", retryAfter),
		RetryAfter: retryAfter,
	}
}

// Transient wraps a provider hiccup that is safe to retry with backoff.
func Transient(message string, cause error) *Error {
	return Wrap(CodeTransient, message, cause)
}

// PermissionDenied is non-retryable; mail access scope is insufficient.
func PermissionDenied(message string) *Error {
	return New(CodePermissionDenied, message)
}

// ValidationFailure marks malformed AI-assisted classification output.
func ValidationFailure(message string) *Error {
	return New(CodeValidationFailure, message)
}

// AlreadyInProgress rejects a duplicate scan request for a user.
func AlreadyInProgress(userID string) *Error {
	return New(CodeAlreadyInProgress, fmt.Sprintf("scan already running for user %s", userID))
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// CodeOf extracts the taxonomy code from err, or CodeTransient if err is
// not a typed error (unclassified failures are retried, not dropped).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransient
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// RetryAfterOf returns the reschedule hint of a rate-limited error, or 0.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Code == CodeRateLimited {
		return e.RetryAfter
	}
	return 0
}
