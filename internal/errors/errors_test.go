package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewValidationError("end time must be after start time")
	assert.Equal(t, "VALIDATION_ERROR: end time must be after start time", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	wrapped := WrapUpstreamError(fmt.Errorf("dial tcp: timeout"), "recording server unreachable")
	assert.Contains(t, wrapped.Error(), "UPSTREAM_ERROR")
	assert.Contains(t, wrapped.Error(), "caused by")
	assert.Equal(t, http.StatusBadGateway, wrapped.HTTPStatus)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapInternalError(cause, "something broke")

	assert.True(t, errors.Is(err, cause))
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("export")
	got, ok := GetAppError(appErr)
	assert.True(t, ok)
	assert.Equal(t, ErrorTypeNotFound, got.Type)

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsAppError(errors.New("plain")))
}

func TestWithCodeAndDetails(t *testing.T) {
	err := NewConflictError("export already running").
		WithCode("EXPORT_IN_PROGRESS").
		WithDetails(map[string]interface{}{"job_id": "abc"})

	assert.Equal(t, "EXPORT_IN_PROGRESS", err.Code)
	assert.Equal(t, "abc", err.Details["job_id"])
}

func TestConstructorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
		etype  ErrorType
	}{
		{"validation", NewValidationError("x"), http.StatusBadRequest, ErrorTypeValidation},
		{"not found", NewNotFoundError("x"), http.StatusNotFound, ErrorTypeNotFound},
		{"internal", NewInternalError("x"), http.StatusInternalServerError, ErrorTypeInternal},
		{"timeout", NewTimeoutError("x"), http.StatusRequestTimeout, ErrorTypeTimeout},
		{"rate limit", NewRateLimitError("x"), http.StatusTooManyRequests, ErrorTypeRateLimit},
		{"service down", NewServiceDownError("redis"), http.StatusServiceUnavailable, ErrorTypeServiceDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.etype, tt.err.Type)
		})
	}
}
