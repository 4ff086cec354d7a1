package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidName        Code = "invalid_name"
	CodeMergeFailed        Code = "merge_failed"
	CodeTransportFailure   Code = "transport_failure"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeRateLimited        Code = "rate_limited"
	CodeInternal           Code = "internal"
)

// Sentinels for errors.Is; any *Error with the same Code matches.
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrInvalidName        = &Error{Code: CodeInvalidName, Message: "invalid name"}
	ErrMergeFailed        = &Error{Code: CodeMergeFailed, Message: "merge failed"}
	ErrTransportFailure   = &Error{Code: CodeTransportFailure, Message: "transport failure"}
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable, Message: "storage unavailable"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "rate limited"}
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Constructors
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error     { return New(CodeNotFound, msg) }
func InvalidInput(msg string) error { return New(CodeInvalidInput, msg) }
func InvalidName(msg string) error  { return New(CodeInvalidName, msg) }

func MergeFailed(msg string, cause error) error {
	return Wrap(CodeMergeFailed, msg, cause)
}

func StorageUnavailable(msg string, cause error) error {
	return Wrap(CodeStorageUnavailable, msg, cause)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
