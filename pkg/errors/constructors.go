package errors

import (
	"errors"
	"fmt"
)

// New creates a new Error with the specified code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as the Cause of a new Error. Returns nil if err is nil.
//
// Example:
//
//	if err := store.Set(ctx, subject, rec, ttl); err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "refresh record write failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Unauthorized creates a new general authentication error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates a new authorization error. Use it when authentication
// succeeded but a role or policy check failed.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Configuration creates a new configuration error.
func Configuration(message string) *Error {
	return New(CodeInternalConfiguration, message)
}

// Internal creates a new internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError converts err to an *Error. Errors that already are (or wrap)
// an *Error are returned as-is; anything else becomes an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
