// Package apierr defines the error taxonomy shared by every service and
// surfaced to callers without stack traces or secrets.
package apierr

import (
	"errors"
	"fmt"

	"github.com/openclave/controlplane/internal/domain"
)

// Kind identifies a class of error in the control plane's taxonomy.
type Kind string

const (
	KindAuthRequired         Kind = "auth_required"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindBadRequest           Kind = "bad_request"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindConflict             Kind = "conflict"
	KindRateLimited          Kind = "rate_limited"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindInternal             Kind = "internal"
)

// Error is a taxonomy-tagged error safe to return to callers.
type Error struct {
	Kind    Kind
	Message string
	err     error // wrapped cause, never exposed in Message
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func AuthRequired(format string, args ...any) *Error { return newErr(KindAuthRequired, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newErr(KindForbidden, format, args...) }
func NotFound(format string, args ...any) *Error     { return newErr(KindNotFound, format, args...) }
func BadRequest(format string, args ...any) *Error   { return newErr(KindBadRequest, format, args...) }
func QuotaExceeded(format string, args ...any) *Error {
	return newErr(KindQuotaExceeded, format, args...)
}
func Conflict(format string, args ...any) *Error { return newErr(KindConflict, format, args...) }
func RateLimited(format string, args ...any) *Error {
	return newErr(KindRateLimited, format, args...)
}
func UpstreamUnavailable(format string, args ...any) *Error {
	return newErr(KindUpstreamUnavailable, format, args...)
}
func Internal(format string, args ...any) *Error { return newErr(KindInternal, format, args...) }

// Wrap attaches a cause to an Error without leaking it into Message.
func (e *Error) Wrap(cause error) *Error {
	e.err = cause
	return e
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// FromStore translates the sentinel errors storage adapters return
// (domain.ErrNotFound, domain.ErrConflict) into the matching taxonomy
// kind. Any other error becomes KindInternal, wrapping the cause.
func FromStore(err error, format string, args ...any) *Error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return NotFound(format, args...).Wrap(err)
	case errors.Is(err, domain.ErrConflict):
		return Conflict(format, args...).Wrap(err)
	default:
		return Internal(format, args...).Wrap(err)
	}
}
