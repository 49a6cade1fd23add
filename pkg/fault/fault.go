// Package fault defines the tagged error kinds used across the pool manager.
//
// Every failure that crosses a component boundary is classified as one of a
// small closed set of kinds so that callers can branch on the category
// (errors.As / IsKind) without string matching, and so the HTTP layer can map
// outcomes to status codes in one place.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindValidation marks a malformed request, rejected before any state change.
	KindValidation Kind = "validation_error"

	// KindNotFound marks a reference to an unknown pool, session, or project.
	// No side effects occur.
	KindNotFound Kind = "not_found"

	// KindQuotaExceeded marks an allocation rejected by the monthly minutes
	// budget. No allocation row is created.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindProvider marks a failed call to the device-emulation provider.
	KindProvider Kind = "provider_error"

	// KindInternal marks an unexpected repository or runtime failure.
	KindInternal Kind = "internal_error"
)

// Error is a tagged error value.
type Error struct {
	Kind    Kind
	Message string

	// Op names the provider operation for KindProvider errors.
	Op string

	// RetryAfter hints when a KindQuotaExceeded caller may retry.
	RetryAfter time.Duration

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// QuotaExceeded builds a KindQuotaExceeded error carrying the observed usage
// and a retry-after hint.
func QuotaExceeded(usedMinutes, limitMinutes int64, retryAfter time.Duration) *Error {
	return &Error{
		Kind: KindQuotaExceeded,
		Message: fmt.Sprintf("monthly quota exceeded: %d of %d minutes used",
			usedMinutes, limitMinutes),
		RetryAfter: retryAfter,
	}
}

// Providerf builds a KindProvider error for the named provider operation,
// wrapping the underlying cause.
func Providerf(op string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindProvider,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

// Internalf builds a KindInternal error wrapping the underlying cause.
func Internalf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// StatusOf maps any error to an HTTP status code via its kind. Untagged
// errors map to 500.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of err, or KindInternal when err carries no kind.
// A nil error has no kind and returns the empty string.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err is tagged with the given kind.
func IsKind(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}

// RetryAfterOf returns the retry-after hint of err, or zero when absent.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
