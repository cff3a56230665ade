// Package wferr provides the structured error types used across the
// WayFinder pipeline.
//
// Every failure the pipeline can surface carries a Kind from the closed set
// below, so callers can branch on errors.Is / wferr.IsKind without string
// matching. Errors wrap their cause and participate in the errors.Unwrap
// chain.
package wferr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind string

// Kind constants.
const (
	KindInvalidURI            Kind = "invalid_uri"
	KindNoGateways            Kind = "no_gateways"
	KindProviderUnavailable   Kind = "provider_unavailable"
	KindNoHealthyGateway      Kind = "no_healthy_gateway"
	KindAllStrategiesFailed   Kind = "all_strategies_failed"
	KindRetrievalFailed       Kind = "retrieval_failed"
	KindChunkMismatch         Kind = "chunk_mismatch"
	KindDigestMismatch        Kind = "digest_mismatch"
	KindDataRootMismatch      Kind = "data_root_mismatch"
	KindUnsupportedForBundled Kind = "unsupported_for_bundled"
	KindVerificationFailed    Kind = "verification_failed"
	KindMaxDepthExceeded      Kind = "max_depth_exceeded"
	KindBadManifestEntry      Kind = "bad_manifest_entry"
	KindCancelled             Kind = "cancelled"
)

// Error is the structured pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Status carries the upstream HTTP status when the error originated
	// from a gateway response. Zero when not applicable.
	Status int
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to the errors package.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind, so
// errors.Is(err, wferr.New(wferr.KindNoGateways, "")) reports kind equality.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus reports the upstream status attached to the error, if any.
func (e *Error) HTTPStatus() int { return e.Status }

// IsKind reports whether err (or anything it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind of err, or "" when err carries no *Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
