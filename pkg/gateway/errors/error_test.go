package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetErrCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect ErrorCode
	}{
		{
			name:   "typed error",
			err:    NewError(ErrorNoCapacity, "pool is full"),
			expect: ErrorNoCapacity,
		},
		{
			name:   "wrapped typed error",
			err:    fmt.Errorf("acquire failed: %w", NewError(ErrorInitializing, "warming up")),
			expect: ErrorInitializing,
		},
		{
			name:   "plain error",
			err:    fmt.Errorf("boom"),
			expect: ErrorUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, GetErrCode(tt.err))
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorCreationFailed, "attempt %d of %d", 3, 3)
	assert.Equal(t, ErrorCreationFailed, GetErrCode(err))
	assert.Equal(t, "CreationFailed: attempt 3 of 3", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrorAuthInvalid, http.StatusUnauthorized},
		{ErrorNoCapacity, http.StatusServiceUnavailable},
		{ErrorInitializing, http.StatusServiceUnavailable},
		{ErrorCreationFailed, http.StatusServiceUnavailable},
		{ErrorUserCodeError, http.StatusBadRequest},
		{ErrorUserCodeTimeout, http.StatusBadRequest},
		{ErrorTransportFailure, http.StatusGatewayTimeout},
		{ErrorNotFound, http.StatusNotFound},
		{ErrorInternal, http.StatusInternalServerError},
		{ErrorUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.code))
		})
	}
}
