// Package domainerrors defines the coded error type shared by every service.
//
// Every assertion failure in the ledger carries a stable Code so callers and
// tests can branch on failure kind instead of matching message text. Messages
// are for humans and may evolve; codes may not.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable category for programmatic error handling.
type Code string

const (
	// CodeUnauthorized: the sender is not the owner, settler, fund owner, or
	// initiator the operation requires.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeNotFound: a referenced channel, fund, request, or settlement
	// address does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict: a duplicate fund for an (channel, owner) pair, or an
	// asset that is already allow-listed.
	CodeConflict Code = "CONFLICT"
	// CodeInvalidInput: name or reference too long, payment amount mismatch,
	// amount exceeding a balance or request.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeSequence: a nonce that is not exactly the next expected value.
	// Covers replay and reordering.
	CodeSequence Code = "SEQUENCE"
	// CodeTiming: cooling-off period not elapsed, or an approval past expiry.
	CodeTiming Code = "TIMING"
	// CodeSignature: an approval signature that fails verification.
	CodeSignature Code = "SIGNATURE"
	// CodeInvariant: an internal invariant would be violated, e.g. teardown
	// while active funds or channels remain.
	CodeInvariant Code = "INVARIANT"
	// CodeBadRequest: malformed transport-level input.
	CodeBadRequest Code = "BAD_REQUEST"
	// CodeInternal: unexpected failure; the catch-all for wrapped I/O errors.
	CodeInternal Code = "INTERNAL"
)

// Error is the structured error carried across service boundaries.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a coded error that preserves its cause for errors.Is/As chains.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for plain
// errors so transport layers never leak raw failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status used by the JSON error
// envelope. Keeping the mapping here gives every handler the same translation.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeSequence:
		return http.StatusConflict
	case CodeTiming:
		return http.StatusPreconditionFailed
	case CodeSignature:
		return http.StatusUnauthorized
	case CodeInvariant:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
