package http

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is an error with an HTTP status and a stable code for clients. Err and
// RetryAfter stay server side; AppErrorResponse turns RetryAfter into a header.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Field      string                 `json:"field,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Status     int                    `json:"-"`
	RetryAfter time.Duration          `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithError attaches the cause for logs and errors.Is.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func NotFoundError(message string) *AppError {
	return newAppError("ERR_NOT_FOUND", message, http.StatusNotFound)
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}

func BadRequestError(message string) *AppError {
	return newAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

// TooManyRequestsError is a 429 telling the client to come back after retryAfter.
func TooManyRequestsError(message string, retryAfter time.Duration) *AppError {
	e := newAppError("ERR_RATE_LIMITED", message, http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

// UnavailableError is a 503, used when a collaborator (market data, queue, store) is
// down rather than the request being wrong.
func UnavailableError(message string) *AppError {
	return newAppError("ERR_UNAVAILABLE", message, http.StatusServiceUnavailable)
}
