package coordinator

import (
	"errors"
	"fmt"
)

// Kind classifies coordinator failures. The HTTP layer maps kinds to
// status codes; the protocols use them to decide what may be retried
// and what must abort before any side effect.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindUpstreamLedger
	KindUpstreamCache
	KindUpstreamStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstreamLedger:
		return "upstream_ledger"
	case KindUpstreamCache:
		return "upstream_cache"
	case KindUpstreamStorage:
		return "upstream_storage"
	default:
		return "unknown"
	}
}

// Error is the coordinator's failure type, carrying a kind and an
// optional wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil && e.msg != "" {
		return e.msg + ": " + e.err.Error()
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf extracts the failure class from any error chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindUnknown
}

func newErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Validationf reports a missing or malformed required field.
func Validationf(format string, args ...interface{}) *Error {
	return newErrorf(KindValidation, format, args...)
}

// Authorizationf reports a failed holder/owner/participant gate.
func Authorizationf(format string, args ...interface{}) *Error {
	return newErrorf(KindAuthorization, format, args...)
}

// NotFoundf reports a missing row or account.
func NotFoundf(format string, args ...interface{}) *Error {
	return newErrorf(KindNotFound, format, args...)
}

// Conflictf reports a duplicate id, address, or participant.
func Conflictf(format string, args ...interface{}) *Error {
	return newErrorf(KindConflict, format, args...)
}

func wrapErr(kind Kind, err error, msg string) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// LedgerError wraps an upstream ledger failure.
func LedgerError(err error, msg string) *Error {
	return wrapErr(KindUpstreamLedger, err, msg)
}

// CacheError wraps an upstream cache failure.
func CacheError(err error, msg string) *Error {
	return wrapErr(KindUpstreamCache, err, msg)
}

// StorageError wraps an upstream content-store failure.
func StorageError(err error, msg string) *Error {
	return wrapErr(KindUpstreamStorage, err, msg)
}
