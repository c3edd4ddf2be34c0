// Package rdperrors implements the error taxonomy of the RDP bridge: a
// small set of failure categories that determine how an error propagates
// across component boundaries (retry, per-connection teardown, per-request
// failure status, or fatal process exit).
package rdperrors

import (
	"errors"
	"fmt"
)

// Category classifies a failure by how it should be handled, not by its
// underlying cause.
type Category int

const (
	// Configuration errors are fatal at startup; the process exits before
	// accepting connections.
	Configuration Category = iota
	// Security errors (TLS handshake, auth, certificates) are per-connection
	// fatal.
	Security
	// Protocol errors (malformed PDUs, capability mismatches) are
	// per-connection fatal.
	Protocol
	// Resource errors (OOM, fd exhaustion, capture buffer unavailable)
	// trigger a graceful session teardown attempt.
	Resource
	// Transient errors (single encoder failure, single capture glitch) are
	// retried with bounded backoff.
	Transient
	// ClipboardRequest errors are reported back to the peer as a per-request
	// failure status; the channel itself is never torn down.
	ClipboardRequest
	// InputEvent errors are logged and dropped; they never disconnect the
	// session.
	InputEvent
)

func (c Category) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Security:
		return "security"
	case Protocol:
		return "protocol"
	case Resource:
		return "resource"
	case Transient:
		return "transient"
	case ClipboardRequest:
		return "clipboard_request"
	case InputEvent:
		return "input_event"
	default:
		return "unknown"
	}
}

// Error is a category-tagged error. It wraps an underlying cause so
// errors.Is/errors.As continue to work across the boundary.
type Error struct {
	Category Category
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a category error with no underlying cause.
func New(category Category, msg string) *Error {
	return &Error{Category: category, Msg: msg}
}

// Wrap creates a category error wrapping an existing error.
func Wrap(category Category, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Msg: msg, Err: err}
}

// Is reports whether err (or any error in its chain) carries the given
// category.
func Is(err error, category Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == category
	}
	return false
}

// CategoryOf extracts the category of err, returning ok=false if err does
// not carry one (i.e. it originated outside this taxonomy); the caller
// picks the default category in that case.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return 0, false
}

// Fatal reports whether a category terminates the whole connection
// (Security, Protocol) as opposed to being retried or reported per-request.
func Fatal(category Category) bool {
	switch category {
	case Security, Protocol:
		return true
	default:
		return false
	}
}

// CircuitBreaker tracks consecutive transient failures and trips once the
// count reaches a threshold. It only reports the trip; the caller decides
// how to escalate (e.g. tearing the session down). Mirrors the "retried
// with bounded backoff and a circuit breaker tracking consecutive
// failures" propagation policy of the error handling design.
type CircuitBreaker struct {
	threshold int
	consec    int
}

// NewCircuitBreaker returns a breaker that trips after threshold
// consecutive failures.
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 2
	}
	return &CircuitBreaker{threshold: threshold}
}

// Record records a success or failure and reports whether the breaker has
// now tripped.
func (b *CircuitBreaker) Record(ok bool) (tripped bool) {
	if ok {
		b.consec = 0
		return false
	}
	b.consec++
	return b.consec >= b.threshold
}

// Reset clears the consecutive-failure count.
func (b *CircuitBreaker) Reset() { b.consec = 0 }
