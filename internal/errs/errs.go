// Package errs implements the nine error kinds from the runtime's error
// handling design: a closed vocabulary carried alongside an arbitrary
// wrapped cause, rather than one bespoke error type per subsystem.
package errs

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind is one of the nine recognized error kinds.
type Kind string

const (
	AuthenticationFailed Kind = "authentication_failed"
	Provider             Kind = "provider"
	Network              Kind = "network"
	InvalidParameters    Kind = "invalid_parameters"
	PermissionDenied     Kind = "permission_denied"
	ExecutionFailed      Kind = "execution_failed"
	Aborted              Kind = "aborted"
	Io                   Kind = "io"
	Other                Kind = "other"
)

// Error wraps a cause with a kind and a message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an existing cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error in its Unwrap chain) carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind of err, defaulting to Other when err does not
// carry one of the recognized kinds.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Retryable reports whether the recovery policy (spec §7) says this error
// is eligible for retry with backoff: Network errors, and Provider errors
// whose message suggests a 5xx/429/rate_limit/timeout condition.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Network:
		return true
	case Provider:
		msg := err.Error()
		return rateLimitPattern.MatchString(msg)
	default:
		return false
	}
}

var rateLimitPattern = regexp.MustCompile(`(?i)rate_limit|timeout|\b5\d\d\b|\b429\b`)

// secretPattern matches common credential shapes so Redact can scrub them
// out of error text before it reaches a user or a log line.
var secretPattern = regexp.MustCompile(`(?i)(sk-[a-z0-9-]{8,}|bearer\s+[a-z0-9._-]{8,}|api[_-]?key["':= ]+[a-z0-9._-]{8,})`)

// Redact returns msg with any recognizable credential substring replaced
// by a fixed-width placeholder, matching the "never logged or included in
// Debug output" requirement on credentials.
func Redact(msg string) string {
	return secretPattern.ReplaceAllString(msg, "[REDACTED]")
}

// RedactError rebuilds err's message with Redact applied, preserving kind
// and cause so callers can still unwrap/Is against it.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: Redact(e.Message), Cause: e.Cause}
	}
	return errors.New(Redact(err.Error()))
}
