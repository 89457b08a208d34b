package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorBusy         ErrorCode = "BUSY"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// NewError builds a usecase error for transports that reject a request before
// it reaches the chat service (rate limiting, malformed bodies).
func NewError(code ErrorCode, reason string) *Error {
	return newError(code, reason, nil)
}

// CodeOf returns the code carried by err, or ErrorInternal for anything that
// is not a usecase error.
func CodeOf(err error) (ErrorCode, string) {
	var uerr *Error
	if errors.As(err, &uerr) && uerr != nil {
		return uerr.Code, uerr.Reason
	}
	return ErrorInternal, "internal_error"
}

// HTTPStatus maps an error code to the status transports answer with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrorInvalidInput:
		return http.StatusBadRequest
	case ErrorBusy:
		return http.StatusConflict
	case ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
