package ns

import (
	"errors"
	"fmt"
)

// Code identifies one variant of the closed failure taxonomy. Codes are
// stable and travel over the wire protocol verbatim.
type Code string

// The failure taxonomy.
const (
	CodeNotFound    Code = "not_found"
	CodeInvalidPath Code = "invalid_path"
	CodeInvalidData Code = "invalid_data"
	CodePermission  Code = "permission"
	CodeClosed      Code = "closed"
	CodeTimeout     Code = "timeout"
	CodeConnection  Code = "connection"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

var validCodes = map[Code]struct{}{
	CodeNotFound: {}, CodeInvalidPath: {}, CodeInvalidData: {},
	CodePermission: {}, CodeClosed: {}, CodeTimeout: {},
	CodeConnection: {}, CodeUnavailable: {}, CodeInternal: {},
}

// Error is a coded namespace failure. Every operation on a Namespace
// fails with exactly one Error; control flow never rides on panics.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// E builds an Error with the given code and message.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds an Error with a formatted message. A trailing %w verb
// wraps a cause as usual.
func Errorf(code Code, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Code: code, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// CodeOf extracts the taxonomy code from err. Errors that did not
// originate in a namespace map to internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// FromCode reconstructs an Error from a wire code. Unknown codes map to
// internal so that a newer peer never smuggles an unhandled variant.
func FromCode(code Code, message string) *Error {
	if _, ok := validCodes[code]; !ok {
		code = CodeInternal
	}
	return &Error{Code: code, Message: message}
}
