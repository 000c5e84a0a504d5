package types

import (
	"errors"
	"fmt"
)

// Code is the stable taxonomy code carried by every core error.
type Code string

const (
	CodeConflict   Code = "conflict"
	CodeNotFound   Code = "not_found"
	CodeValidation Code = "validation"
	CodeQuery      Code = "query"
	CodeTable      Code = "table"
	CodeStorage    Code = "storage"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrConflict   = &Error{Code: CodeConflict}
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrValidation = &Error{Code: CodeValidation}
	ErrQuery      = &Error{Code: CodeQuery}
	ErrTable      = &Error{Code: CodeTable}
	ErrStorage    = &Error{Code: CodeStorage}
)

// Error is a classified, request-scoped failure. Err holds the backend
// cause for logging and is never rendered into Message.
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

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return newError(CodeConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newError(CodeValidation, format, args...)
}

func Query(format string, args ...any) *Error {
	return newError(CodeQuery, format, args...)
}

func Table(format string, args ...any) *Error {
	return newError(CodeTable, format, args...)
}

// Storage wraps an unexpected backend failure.
func Storage(err error, message string) *Error {
	return &Error{Code: CodeStorage, Message: message, Err: err}
}

// CodeOf returns the taxonomy code of err. Errors that were never
// classified count as storage failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorage
}
