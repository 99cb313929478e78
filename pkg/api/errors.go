package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/omnidesk/pkg/services"
)

// HTTPError is an error with the status code and message sent to the client.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

func newHTTPError(code int, message string) *HTTPError {
	return &HTTPError{Code: code, Message: message}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return newHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return newHTTPError(http.StatusBadRequest, "invalid input")
	}
	if errors.Is(err, services.ErrNotFound) {
		return newHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrInvalidTransition) {
		return newHTTPError(http.StatusConflict, "session is not in a state that allows this operation")
	}
	if errors.Is(err, services.ErrCapacityExceeded) {
		return newHTTPError(http.StatusConflict, "agent has no free capacity")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return newHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, services.ErrConcurrentModification) {
		return newHTTPError(http.StatusConflict, "resource was modified concurrently, retry")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return newHTTPError(http.StatusInternalServerError, "internal server error")
}

// handle adapts an error-returning handler to gin, rendering errors as
// ErrorResponse.
func handle(fn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c); err != nil {
			he := mapServiceError(err)
			c.AbortWithStatusJSON(he.Code, ErrorResponse{Error: he.Message})
		}
	}
}
