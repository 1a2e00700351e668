// Package errs defines the closed error-kind taxonomy used across
// azslurmd: a fixed set of kinds, never string matching.
package errs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
)

// Kind is one of the six error kinds azslurmd distinguishes.
type Kind int

const (
	// Unavailable: scheduler or provider not answering. Retried with
	// backoff; surfaced only once retries are exhausted.
	Unavailable Kind = iota
	// CommandFailed: a scheduler CLI invocation returned non-zero.
	CommandFailed
	// UnknownNode: a name requested by the scheduler hook does not map
	// to any partition.
	UnknownNode
	// InvalidState: an operator action would violate an invariant.
	InvalidState
	// Timeout: a bounded wait elapsed.
	Timeout
	// ConfigError: startup configuration is missing required fields.
	ConfigError
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "Unavailable"
	case CommandFailed:
		return "CommandFailed"
	case UnknownNode:
		return "UnknownNode"
	case InvalidState:
		return "InvalidState"
	case Timeout:
		return "Timeout"
	case ConfigError:
		return "ConfigError"
	default:
		return "Unknown"
	}
}

// Error is the single error type azslurmd constructs; callers
// discriminate on Kind via Is/As, never on Error() text.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an *Error of the given kind, preserving cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, if it is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Retryable reports whether err's kind is one that a bounded retry
// loop should attempt again (Unavailable), as opposed to a structural
// failure that should surface immediately.
func Retryable(err error) bool {
	return Is(err, Unavailable)
}

// RetryQuadratic retries op up to attempts times with an
// attempt²-second delay between tries, the exact backoff shape the
// original scheduler-CLI and provider-REST call sites use. Stops
// early, without consuming a retry, if op returns a non-retryable
// error. attempts < 1 is treated as 1.
func RetryQuadratic(ctx context.Context, attempts int, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	err := retry.Do(
		func() error {
			lastErr = op()
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.RetryIf(func(err error) bool {
			return Retryable(err)
		}),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			attempt := int(n) + 1
			return time.Duration(attempt*attempt) * time.Second
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return lastErr
	}
	return nil
}
