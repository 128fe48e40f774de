package signing

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeExpired         Code = "EXPIRED"
	CodeAlreadySigned   Code = "ALREADY_SIGNED"
	CodeAlreadyRejected Code = "ALREADY_REJECTED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeConflict        Code = "CONFLICT"
	CodeValidation      Code = "VALIDATION"
	CodePipelineFailure Code = "PIPELINE_FAILURE"
)

// Error is the coded error every Service operation returns for expected
// refusals. Storage failures are returned as plain wrapped errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NotFound(msg string) error   { return newError(CodeNotFound, msg) }
func Forbidden(msg string) error  { return newError(CodeForbidden, msg) }
func Conflict(msg string) error   { return newError(CodeConflict, msg) }
func Validation(msg string) error { return newError(CodeValidation, msg) }

func pipelineFailure(cause error) *Error {
	return &Error{Code: CodePipelineFailure, Message: "signed PDF could not be generated", Cause: cause}
}

var (
	errTokenNotFound   = newError(CodeNotFound, "Invalid signing link.")
	errTokenExpired    = newError(CodeExpired, "This signing link has expired.")
	errAlreadySigned   = newError(CodeAlreadySigned, "This signature has already been signed.")
	errAlreadyRejected = newError(CodeAlreadyRejected, "This signature has already been rejected.")
)

// CodeOf returns the Code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsAlreadyActioned reports whether err refuses an action on a field that
// already left pending.
func IsAlreadyActioned(err error) bool {
	c := CodeOf(err)
	return c == CodeAlreadySigned || c == CodeAlreadyRejected
}
