package apperror

import (
	"context"
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeInvalidResponse      Code = "INVALID_RESPONSE"
	CodeAPIContract          Code = "API_CONTRACT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeNetwork              Code = "NETWORK_ERROR"
	CodeStorage              Code = "STORAGE_ERROR"
	CodeJobFailed            Code = "JOB_FAILED"
	CodeComposition          Code = "COMPOSITION_ERROR"
	CodeAllRoomsFailed       Code = "ALL_ROOMS_FAILED"
	CodeTimeout              Code = "TIMEOUT"
	CodeCancelled            Code = "CANCELLED"
	CodeSubscriptionRequired Code = "SUBSCRIPTION_REQUIRED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInternal             Code = "INTERNAL"
)

// Error carries a stable machine-readable code alongside the human readable message.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func Wrapf(code Code, op string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the outermost code in err's chain. Context errors map to
// CANCELLED / TIMEOUT, anything else unknown maps to INTERNAL.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Message returns the human readable part of err, without op and code decoration.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" && e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return Message(e.Err)
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
