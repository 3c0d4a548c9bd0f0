package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidationRequired, http.StatusBadRequest},
		{CodeAuthenticationMissing, http.StatusUnauthorized},
		{CodeAuthenticationExpired, http.StatusUnauthorized},
		{CodeAuthenticationRefreshFailed, http.StatusUnauthorized},
		{CodeAuthorization, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeInternalConfiguration, http.StatusInternalServerError},
		{CodeUnavailableDependency, http.StatusServiceUnavailable},
		{CodeTimeoutDependency, http.StatusGatewayTimeout},
		{Code("UNKNOWN_001"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	err := New(CodeAuthenticationInvalid, "token rejected")
	assert.Equal(t, "AUTH_003: token rejected", err.Error())

	wrapped := Wrap(errors.New("dial tcp: refused"), CodeUnavailableDependency, "key fetch failed")
	assert.Equal(t, "UNAVAIL_002: key fetch failed: dial tcp: refused", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(cause, CodeInternal, "outer")
	assert.ErrorIs(t, err, cause)
}

func TestError_WithDetails_DoesNotMutate(t *testing.T) {
	base := New(CodeAuthenticationInvalid, "token rejected").WithDetail("reason", "malformed")
	derived := base.WithDetail("kid", "abc")

	assert.Len(t, base.Details, 1)
	assert.Len(t, derived.Details, 2)
	assert.Equal(t, "malformed", derived.Details["reason"])
}

func TestError_Format(t *testing.T) {
	err := Wrap(errors.New("boom"), CodeInternal, "outer").WithDetail("k", "v")

	assert.Equal(t, err.Error(), fmt.Sprintf("%v", err))
	assert.Equal(t, err.Error(), fmt.Sprintf("%s", err))

	verbose := fmt.Sprintf("%+v", err)
	assert.True(t, strings.HasPrefix(verbose, `Error{Code: "INT_001"`))
	assert.Contains(t, verbose, "Details: map[k:v]")
	assert.Contains(t, verbose, "Cause: boom")
}
