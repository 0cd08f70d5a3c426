// Package apperr defines the error-kind taxonomy shared across the
// ingest-and-fulfilment engine. Components classify failures into a closed
// set of Kinds and attach structured context instead of returning bare
// error strings, so callers can branch on Kind with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a coarse failure category, not a Go type hierarchy — every Kind
// is carried by the same Error struct.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindDuplicate      Kind = "duplicate"
	KindKeysExhausted  Kind = "keys_exhausted"
	KindRateLimited    Kind = "rate_limited"
	KindUpstreamFault  Kind = "upstream_fault"
	KindCircuitOpen    Kind = "circuit_open"
	KindParseFailure   Kind = "parse_failure"
	KindFilesystemFault Kind = "filesystem_fault"
	KindStateConflict  Kind = "state_conflict"
	KindUnreachable    Kind = "unreachable"
)

// Error is the concrete error value returned across component boundaries.
// Context keys are documented per call site (e.g. "remaining_seconds",
// "status_code", "purpose", "key_id", "hash_id").
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports Kind equality so errors.Is(err, apperr.KindNotFound) style
// checks work via a sentinel-shaped comparison helper (Of).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" {
		return e.Kind == t.Kind && e.Message == t.Message
	}
	return e.Kind == t.Kind
}

// Of constructs a sentinel used with errors.Is to test only the Kind.
func Of(kind Kind) *Error { return &Error{Kind: kind} }

// New builds an Error with optional context, e.g.:
//
//	apperr.New(apperr.KindDuplicate, "hash already exists", apperr.Ctx{"hash_id": id})
func New(kind Kind, message string, ctx Ctx) *Error {
	return &Error{Kind: kind, Message: message, Context: map[string]any(ctx)}
}

// Wrap builds an Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error, ctx Ctx) *Error {
	return &Error{Kind: kind, Message: message, Context: map[string]any(ctx), Cause: cause}
}

// Ctx is the structured-context map type, aliased for readability at call sites.
type Ctx map[string]any

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
