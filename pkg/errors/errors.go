package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Cause      error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithCause records the error that triggered this one
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Business error codes shared with the web client
const (
	CodeCharacterNotFound      = "4001"
	CodeSessionNotFound        = "4002"
	CodeCharacterHasSessions   = "4003"
	CodeInvalidInput           = "4004"
	CodeModelNotFound          = "4005"
	CodeModelDisabled          = "4006"
	CodeModelUnconfigured      = "4007"
	CodeDuplicateModelID       = "4008"
	CodeVisionModelUnavailable = "4009"
	CodeLLMAPIError            = "5001"
	CodeDatabaseError          = "5002"
	CodeFileUploadError        = "5003"
	CodeConfigurationError     = "5004"
)

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewTooManyRequestsError creates a 429 error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewServiceUnavailableError creates a 503 error
func NewServiceUnavailableError(code string, message string) *AppError {
	return NewError(http.StatusServiceUnavailable, code, message)
}

// Conflicts (duplicate model id, character with sessions) surface as 400 with context.

func CharacterNotFound(id uint) *AppError {
	return NewNotFoundError(CodeCharacterNotFound, fmt.Sprintf("Character with ID %d not found", id))
}

func SessionNotFound(sessionKey string) *AppError {
	return NewNotFoundError(CodeSessionNotFound, fmt.Sprintf("Session %q not found", sessionKey))
}

func ModelNotFound(id uint) *AppError {
	return NewNotFoundError(CodeModelNotFound, fmt.Sprintf("Model with ID %d not found", id))
}

func InvalidInput(message string) *AppError {
	return NewBadRequestError(CodeInvalidInput, message)
}

func DatabaseError(err error) *AppError {
	return NewInternalServerError(CodeDatabaseError, "Database operation failed").WithCause(err)
}

// Is checks if the target error is an AppError carrying the same code
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}

// HasCode reports whether err is an AppError with the given code
func HasCode(err error, code string) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
