package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is the wire name of an error kind.
type Code string

const (
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeHostUnreachable      Code = "HOST_UNREACHABLE"
	CodeDatabaseNotFound     Code = "DATABASE_NOT_FOUND"
	CodeSessionInvalid       Code = "SESSION_INVALID"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeNotFound             Code = "NOT_FOUND"
	CodeUnknown              Code = "UNKNOWN"
	CodeRateLimited          Code = "RATE_LIMITED"
)

// Error is the single error type crossing package boundaries. Temporary marks
// failures worth retrying on read paths.
type Error struct {
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Temporary bool              `json:"-"`
	Err       error             `json:"-"`
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its Code.
var (
	ErrAuthenticationFailed = &Error{Code: CodeAuthenticationFailed}
	ErrHostUnreachable      = &Error{Code: CodeHostUnreachable}
	ErrDatabaseNotFound     = &Error{Code: CodeDatabaseNotFound}
	ErrSessionInvalid       = &Error{Code: CodeSessionInvalid}
	ErrValidation           = &Error{Code: CodeValidation}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrUnknown              = &Error{Code: CodeUnknown}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + e.Fields[k]
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Errorf builds an *Error of the given code.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a new *Error of the given code.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Temporary builds a retryable Unknown error.
func Temporary(cause error, message string) *Error {
	return &Error{Code: CodeUnknown, Message: message, Temporary: true, Err: cause}
}

// ValidationError reports per-field problems; fields may be nil.
func ValidationError(message string, fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// CodeOf returns the Code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// AsError returns err as an *Error, wrapping foreign errors as Unknown.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeUnknown, err, "unexpected error")
}
