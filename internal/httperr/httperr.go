package httperr

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is a structured error carried to the HTTP boundary.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"error"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// Unauthenticated: no identity could be resolved from the request.
func Unauthorized() *APIError {
	return New(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
}

// Malformed or missing fields.
func BadRequest(message string) *APIError {
	return New(http.StatusBadRequest, "VALIDATION_FAILED", message)
}

// Organization, user, or operation could not be resolved.
func NotFound(resource string) *APIError {
	return New(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

// Caller is authenticated but not a member of the organization.
func Forbidden(message string) *APIError {
	return New(http.StatusForbidden, "FORBIDDEN", message)
}

// Illegal state transition.
func Conflict(message string) *APIError {
	return New(http.StatusConflict, "CONFLICT", message)
}

func TooManyRequests() *APIError {
	return New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
}

// Internal hides the underlying cause from the client; callers log it.
func Internal() *APIError {
	return New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
}
