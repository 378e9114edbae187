// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewUnauthorizedError creates a 401 error
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// kindStatus maps domain error kinds to HTTP responses.
var kindStatus = map[models.Kind]struct {
	status int
	code   string
}{
	models.KindValidation:       {http.StatusBadRequest, "VALIDATION_ERROR"},
	models.KindMissingInput:     {http.StatusBadRequest, "MISSING_INPUT"},
	models.KindPrecondition:     {http.StatusPreconditionFailed, "PRECONDITION_FAILED"},
	models.KindConflict:         {http.StatusConflict, "CONFLICT"},
	models.KindNotFound:         {http.StatusNotFound, "NOT_FOUND"},
	models.KindTimeout:          {http.StatusGatewayTimeout, "TIMEOUT"},
	models.KindExtractionFailed: {http.StatusBadGateway, "EXTRACTION_FAILED"},
}

// FromError converts any error into an APIError. Details of unexpected
// errors are only exposed when dev is set.
func FromError(err error, dev bool) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	}
	if m, ok := kindStatus[models.KindOf(err)]; ok {
		return &APIError{
			Status:  m.status,
			Code:    m.code,
			Message: models.MessageOf(err),
		}
	}
	out := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "UNKNOWN_ERROR",
		Message: "An unexpected error occurred",
	}
	if dev {
		out.Details = err.Error()
	}
	return out
}

// NewErrorHandler returns an echo error handler writing {code, message, details}.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(log, dev)
func NewErrorHandler(log *logger.Logger, dev bool) echo.HTTPErrorHandler {
	if log == nil {
		log = logger.Nop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		apiErr := FromError(err, dev)
		if apiErr.Status >= http.StatusInternalServerError {
			log.Error("request failed", "method", c.Request().Method, "path", c.Path(),
				"status", apiErr.Status, "error", err)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}
