package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omnidesk/omnidesk/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("rating", "must be between 1 and 5"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "must be between 1 and 5",
		},
		{
			name:       "wrapped validation error keeps its message",
			err:        fmt.Errorf("wrapped: %w", services.NewValidationError("agent_id", "required")),
			expectCode: http.StatusBadRequest,
			expectMsg:  "agent_id",
		},
		{
			name:       "invalid input maps to 400",
			err:        fmt.Errorf("wrapped: %w", services.ErrInvalidInput),
			expectCode: http.StatusBadRequest,
			expectMsg:  "invalid input",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "invalid transition maps to 409",
			err:        fmt.Errorf("%w: session is ended", services.ErrInvalidTransition),
			expectCode: http.StatusConflict,
			expectMsg:  "not in a state",
		},
		{
			name:       "capacity exceeded maps to 409",
			err:        services.ErrCapacityExceeded,
			expectCode: http.StatusConflict,
			expectMsg:  "no free capacity",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", services.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectMsg:  "resource already exists",
		},
		{
			name:       "http error passes through",
			err:        newHTTPError(http.StatusBadRequest, "limit must be positive"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "limit must be positive",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Message, tt.expectMsg)
		})
	}
}
