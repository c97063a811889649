// Package domainerrors defines the coded error type shared across services.
//
// Services wrap infrastructure failures with a code so handlers and workers
// can branch on classification (retryable transport failure vs. terminal
// rejection) without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that must branch on failure class.
type Code string

const (
	CodeInternal     Code = "internal"
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"

	// Certificate handling.
	CodeCertificateInvalid  Code = "certificate_invalid"
	CodeCertificateExpired  Code = "certificate_expired"
	CodeCertificateNotFound Code = "certificate_not_found"

	// Receipt pipeline.
	CodeSigningFailed    Code = "signing_failed"
	CodeSequenceConflict Code = "sequence_conflict"
	CodeTransport        Code = "transport"
	CodeProtocolRejected Code = "protocol_rejected"
)

// Error carries a classification code, a caller-facing message, and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the classification code from err, walking the wrap chain.
// Unclassified errors report CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		return Is(de.Err, code)
	}
	return false
}

// Retryable reports whether err represents a transient failure that the
// retry queue may re-attempt. Only transport-class failures qualify;
// everything else is terminal for the attempt that produced it.
func Retryable(err error) bool {
	return Is(err, CodeTransport)
}
