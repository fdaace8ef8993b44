package http

import (
	"fmt"
	"net/http"
)

// AppError is an error that knows the HTTP status it should be served with.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *AppError) Unwrap() error { return e.cause }

func newAppError(status int, code, format string, a ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, a...), Status: status}
}

// NotFoundErrorf reports a missing projection entry.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return newAppError(http.StatusNotFound, "ERR_NOT_FOUND", format, a...)
}

// UnavailableError reports that a backing store could not be read.
func UnavailableError(err error) *AppError {
	e := newAppError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "state store unavailable")
	e.cause = err
	return e
}

// InternalError is served for recovered panics.
func InternalError(err error) *AppError {
	e := newAppError(http.StatusInternalServerError, "ERR_INTERNAL", "internal server error")
	e.cause = err
	return e
}
