package http

import "net/http"

// AppError is a handler failure with the status it maps to. It is rendered
// inside the response envelope as a one-element list.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the cause; it is logged, never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func appError(status int, code, field, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Field: field, Status: status}
}

func BadRequestError(msg string) *AppError {
	return appError(http.StatusBadRequest, "ERR_BAD_REQUEST", "", msg)
}

func NotFoundError(msg string) *AppError {
	return appError(http.StatusNotFound, "ERR_NOT_FOUND", "", msg)
}

// ConflictError names the field that collided, if any.
func ConflictError(field, msg string) *AppError {
	return appError(http.StatusConflict, "ERR_CONFLICT", field, msg)
}

func TooManyRequestsError(msg string) *AppError {
	return appError(http.StatusTooManyRequests, "ERR_RATE_LIMITED", "", msg)
}

func InternalError(msg string) *AppError {
	return appError(http.StatusInternalServerError, "ERR_INTERNAL", "", msg)
}
