// Package errors provides the structured error taxonomy used across the
// overlay core. Every error surfaced across a component boundary is a
// *Error carrying one of the Kinds below, so callers can dispatch on
// behavioral meaning instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of the error kinds the core surfaces.
type Kind string

const (
	// KindAuthenticatorMismatch is a link frame HMAC verification failure.
	// Local recovery: drop the frame. Not surfaced to the caller.
	KindAuthenticatorMismatch Kind = "authenticator_mismatch"
	// KindHandshakeFailure is a link handshake authenticator or protocol
	// failure. Local recovery: destroy the nascent session and cool down.
	// Surfaced to the link builder.
	KindHandshakeFailure Kind = "handshake_failure"
	// KindSessionTimeout is raised when no frame has been received within
	// SessionTimeout. Local recovery: destroy the session. Surfaced to the
	// path owner.
	KindSessionTimeout Kind = "session_timeout"
	// KindFragmentHashMismatch is a reassembled message whose short hash
	// does not match the XMIT-advertised content hash. Local recovery:
	// drop the reassembled message. Not surfaced.
	KindFragmentHashMismatch Kind = "fragment_hash_mismatch"
	// KindPathBuildTimeout is raised when a path build does not complete
	// within PathAlignmentTimeout. Local recovery: mark the hop suspect
	// and retry with a new sample. Surfaced to the path owner.
	KindPathBuildTimeout Kind = "path_build_timeout"
	// KindPathBuildRejected is an explicit LR_StatusMessage rejection from
	// a hop. Local recovery: blacklist (hop, position) for backoff.
	// Surfaced to the path owner.
	KindPathBuildRejected Kind = "path_build_rejected"
	// KindIntroSetStale is raised when a cached introset's introductions
	// have all expired. Local recovery: re-lookup. Surfaced to the flow
	// layer.
	KindIntroSetStale Kind = "introset_stale"
	// KindIntroSetLookupFailed is raised when an introset lookup exhausts
	// its retry budget. Local recovery: cooldown and retry up to a limit.
	// Surfaced to the caller.
	KindIntroSetLookupFailed Kind = "introset_lookup_failed"
	// KindFlowRejectedByAuth is raised when bearer-token authentication on
	// an inbound flow establishment frame fails local policy. Local
	// recovery: drop the flow. Surfaced to the caller.
	KindFlowRejectedByAuth Kind = "flow_rejected_by_auth"
	// KindReplayDetected is raised when a flow sequence number falls
	// outside the replay window or repeats. Local recovery: drop the
	// frame, increment a counter. Not surfaced.
	KindReplayDetected Kind = "replay_detected"
	// KindCongested is raised when a bounded queue (crypto worker pool,
	// CoDel send queue) refuses new work. Local recovery: reject new work
	// and back-pressure. Surfaced to the caller.
	KindCongested Kind = "congested"
	// KindInternal covers anything not in the table above. It is fatal
	// only to the offending object (link session / path / flow), never to
	// the whole process.
	KindInternal Kind = "internal"
)

// surfaced reports whether errors of this Kind are meant to cross a
// component boundary to an interested caller. Kinds not in this set are
// handled and dropped at the point of detection.
var surfaced = map[Kind]bool{
	KindHandshakeFailure:     true,
	KindSessionTimeout:       true,
	KindPathBuildTimeout:     true,
	KindPathBuildRejected:    true,
	KindIntroSetStale:        true,
	KindIntroSetLookupFailed: true,
	KindFlowRejectedByAuth:   true,
	KindCongested:            true,
}

// retryable reports whether the local recovery for this Kind includes a
// retry (possibly after a cooldown or backoff).
var retryable = map[Kind]bool{
	KindPathBuildTimeout:     true,
	KindPathBuildRejected:    true,
	KindIntroSetStale:        true,
	KindIntroSetLookupFailed: true,
}

// Error is the structured error type returned across every component
// boundary in this module.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error { return e.Underlying }

// Is implements error comparison by Kind so errors.Is(err, &Error{Kind: X})
// matches any *Error of that Kind regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a diagnostic key/value pair and returns the receiver
// for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether this error's Kind has a retry-based recovery.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// Surfaced reports whether this error's Kind is meant to cross a component
// boundary to an interested caller.
func (e *Error) Surfaced() bool { return surfaced[e.Kind] }

// New constructs an Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given Kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: err}
}

// GetKind extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err (or something it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether err's recovery policy includes a retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
