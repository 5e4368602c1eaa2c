package protocol

import (
	"errors"
	"fmt"
)

// Code is the stable error taxonomy carried on `error` events and used
// by the session layer to decide whether a failure closes the
// connection (only CodeAuth does).
type Code string

const (
	CodeAuth           Code = "auth"
	CodeValidation     Code = "validation"
	CodeNotFound       Code = "not_found"
	CodeUnauthorized   Code = "unauthorized"
	CodeBlocked        Code = "blocked"
	CodeAlreadyRead    Code = "already_read"
	CodeAlreadyDeleted Code = "already_deleted"
	CodeAlreadyExists  Code = "already_exists"
	CodeNotBlocked     Code = "not_blocked"
	CodeUploadFailed   Code = "upload_failed"
	CodeSelfReference  Code = "self_reference"
	CodeRateLimited    Code = "rate_limited"
	CodeInternal       Code = "internal"
)

// Error is a taxonomy-tagged error. Engine and store return these for
// every expected failure; anything else is treated as internal.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code, defaulting to internal for
// untagged errors so no internal detail leaks to clients.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// ClientMessage returns the text safe to echo back to the caller.
// Untagged errors collapse to a generic message.
func ClientMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Msg
	}
	return "internal error"
}
