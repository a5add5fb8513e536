package types

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Error represents error information in API responses
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// APIError is an error with the HTTP status and envelope fields it maps to.
// Err is the internal cause; it is logged, never sent to the client.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Response returns the envelope for e.
func (e *APIError) Response() Response {
	return ErrorResponse(e.Code, e.Message, e.Details)
}

// ValidationError reports invalid input (400).
func ValidationError(details string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "Invalid input data", Details: details}
}

// NotFoundError reports a missing resource (404).
func NotFoundError(resource string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Resource not found", Details: resource + " not found"}
}

// ConflictError reports a state conflict (409).
func ConflictError(details string) *APIError {
	return &APIError{Status: http.StatusConflict, Code: "CONFLICT", Message: "Resource conflict", Details: details}
}

// UnavailableError reports a dependency that cannot serve the request (503).
func UnavailableError(details string) *APIError {
	return &APIError{Status: http.StatusServiceUnavailable, Code: "UNAVAILABLE", Message: "Service unavailable", Details: details}
}

// InternalError reports a server side failure (500). details is shown to
// the client; err is only logged.
func InternalError(details string, err error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "Internal server error", Details: details, Err: err}
}

// AbortWithError logs err and aborts the request with its envelope.
func AbortWithError(c *gin.Context, err *APIError) {
	event := log.Debug()
	if err.Status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err.Err).
		Str("request_id", c.GetString("request_id")).
		Str("path", c.FullPath()).
		Int("status", err.Status).
		Str("code", err.Code).
		Msg(err.Message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(err.Status, err.Response())
}

// ErrorResponse creates an error API response
func ErrorResponse(code, message, details string) Response {
	return Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// InternalErrorResponse creates an internal server error response
func InternalErrorResponse(details string) Response {
	return ErrorResponse("INTERNAL_ERROR", "Internal server error", details)
}
