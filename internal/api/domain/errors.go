package domain

import (
	"net/http"
)

// Error codes returned by the API.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeEnqueueFailure   = "ENQUEUE_FAILURE"
	CodeUploadFailure    = "UPLOAD_FAILURE"
	CodeJobFailure       = "JOB_FAILURE"
	CodeTransportFailure = "TRANSPORT_FAILURE"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeInternal         = "INTERNAL_ERROR"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func NewValidationError(message string, details any) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Details: details}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func NewForbiddenError(message string) *APIError {
	return &APIError{Status: http.StatusForbidden, Code: CodeForbidden, Message: message}
}

// NewInternalError never carries the underlying error; it is logged instead.
func NewInternalError() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
}
