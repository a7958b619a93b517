// Package coreerrors defines the error-kind taxonomy:
// Transient, StaleMaster, PartialDirty, Corrupt, NotFound and Validation.
// These are kinds, not a type hierarchy of their own structs per caller; the
// core never logs-and-swallows a domain error, it returns or aborts with the
// cause chain intact (use %w wrapping throughout).
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of the propagation policy:
// whether a caller retries, self-fails, or aborts.
type Kind int

const (
	// KindUnknown is the zero value; errors that don't come through this
	// package's constructors report this kind.
	KindUnknown Kind = iota
	// KindTransient covers rejected-execution, circuit-breaking and
	// connect-transport failures: retried with bounded backoff.
	KindTransient
	// KindStaleMaster covers NoLongerPrimaryShardException-equivalents:
	// the primary must self-fail.
	KindStaleMaster
	// KindPartialDirty covers a state write that renamed on some dirs but
	// not others; the caller must resolve it.
	KindPartialDirty
	// KindCorrupt covers checksum/header mismatches or truncated state
	// files: fatal, never silently downgrade to an older generation.
	KindCorrupt
	// KindNotFound covers a missing index, shard or node: the caller
	// decides whether it is fatal.
	KindNotFound
	// KindValidation covers illegal use of a single-use builder or other
	// programmer error: abort.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindStaleMaster:
		return "stale_master"
	case KindPartialDirty:
		return "partial_dirty"
	case KindCorrupt:
		return "corrupt"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind so callers can pattern-match on it without
// losing the original error via errors.Unwrap.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Transient, StaleMaster, PartialDirty, Corrupt, NotFound and Validation
// construct an *Error of the matching Kind.
func Transient(msg string, cause error) error    { return wrap(KindTransient, msg, cause) }
func StaleMaster(msg string, cause error) error  { return wrap(KindStaleMaster, msg, cause) }
func PartialDirty(msg string, cause error) error { return wrap(KindPartialDirty, msg, cause) }
func Corrupt(msg string, cause error) error      { return wrap(KindCorrupt, msg, cause) }
func NotFoundf(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}
func Validationf(format string, args ...interface{}) error {
	return newf(KindValidation, format, args...)
}

// Is reports whether err (or something it wraps) is a coreerrors.Error of
// kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
