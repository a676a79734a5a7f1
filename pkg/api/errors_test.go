package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", models.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "illegal transition maps to 409",
			err:        models.ErrIllegalTransition,
			expectCode: http.StatusConflict,
			expectMsg:  "not in a state",
		},
		{
			name:       "user service unavailable maps to 503",
			err:        models.ErrUserServiceUnavailable,
			expectCode: http.StatusServiceUnavailable,
			expectMsg:  "user service unavailable",
		},
		{
			name:       "data integrity violation maps to 409",
			err:        models.ErrDataIntegrityViolation,
			expectCode: http.StatusConflict,
			expectMsg:  "conflicts",
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
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
