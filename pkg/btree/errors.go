package btree

import (
	"fmt"
)

// Code classifies an engine failure. Codes are part of the public API:
// callers match on them to implement if-exists / or-insert semantics.
type Code string

const (
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeDuplicateKey       Code = "DUPLICATE_KEY"
	CodeMissingKey         Code = "MISSING_KEY"
	CodeInvalidFanout      Code = "INVALID_FANOUT"
	CodeInvalidCursor      Code = "INVALID_CURSOR"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// Error is a coded engine failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches errors by code, so errors.Is(err, ErrMissingKey) works on
// wrapped engine errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is matching.
var (
	ErrAlreadyInitialized = &Error{Code: CodeAlreadyInitialized}
	ErrNotInitialized     = &Error{Code: CodeNotInitialized}
	ErrDuplicateKey       = &Error{Code: CodeDuplicateKey}
	ErrMissingKey         = &Error{Code: CodeMissingKey}
	ErrInvalidFanout      = &Error{Code: CodeInvalidFanout}
	ErrInvalidCursor      = &Error{Code: CodeInvalidCursor}
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation}
)

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
