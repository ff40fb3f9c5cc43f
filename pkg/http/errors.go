package http

import (
	"fmt"
	"net/http"
)

// AppError is an error that knows how it should be rendered to a client.
// Status picks the HTTP code; Err stays server side.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a key that is echoed to the client.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = map[string]interface{}{}
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func statusError(status int, code string) func(string) *AppError {
	return func(msg string) *AppError { return NewAppError(code, "", msg, status) }
}

var (
	BadRequestError  = statusError(http.StatusBadRequest, "ERR_BAD_REQUEST")
	NotFoundError    = statusError(http.StatusNotFound, "ERR_NOT_FOUND")
	ConflictError    = statusError(http.StatusConflict, "ERR_CONFLICT")
	UnavailableError = statusError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE")
	InternalError    = statusError(http.StatusInternalServerError, "ERR_INTERNAL")
)

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}
