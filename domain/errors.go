package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures returned to clients.
type ErrorKind string

const (
	KindNotAuthenticated ErrorKind = "NotAuthenticated"
	KindForbidden        ErrorKind = "Forbidden"
	KindNotFound         ErrorKind = "NotFound"
	KindInvalidReference ErrorKind = "InvalidReference"
	KindValidation       ErrorKind = "ValidationError"
	KindStoreUnavailable ErrorKind = "StoreUnavailable"
	KindInternal         ErrorKind = "Internal"
)

// Error carries a taxonomy kind alongside the message shown to the originator.
// Err, when set, is the underlying cause and is never sent to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the client may resend the same mutation.
func (e *Error) Retriable() bool { return e.Kind == KindStoreUnavailable }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotAuthenticated(format string, args ...any) *Error {
	return newError(KindNotAuthenticated, format, args...)
}

func Forbidden(format string, args ...any) *Error { return newError(KindForbidden, format, args...) }

func NotFound(format string, args ...any) *Error { return newError(KindNotFound, format, args...) }

func InvalidReference(format string, args ...any) *Error {
	return newError(KindInvalidReference, format, args...)
}

func Validation(format string, args ...any) *Error { return newError(KindValidation, format, args...) }

// StoreUnavailable wraps a transient dependency failure.
func StoreUnavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: "store unavailable, retry later", Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the taxonomy kind of err. Context deadlines and cancellations
// count as StoreUnavailable; anything unclassified is Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindStoreUnavailable
	}
	return KindInternal
}

// AsError converts any error into a *Error using KindOf.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if KindOf(err) == KindStoreUnavailable {
		return StoreUnavailable(err)
	}
	return Internal(err)
}
