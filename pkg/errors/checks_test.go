package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecks_ThroughWrapping(t *testing.T) {
	inner := New(CodeAuthenticationRefreshFailed, "refresh failed")
	outer := fmt.Errorf("gate: %w", inner)

	assert.True(t, IsAuthentication(outer))
	assert.True(t, HasCode(outer, CodeAuthenticationRefreshFailed))
	assert.Equal(t, CodeAuthenticationRefreshFailed, GetCode(outer))
	assert.False(t, IsAuthorization(outer))
}

func TestChecks_Categories(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation", New(CodeValidation, "x"), IsValidation, true},
		{"authorization", Forbidden("x"), IsAuthorization, true},
		{"not found", New(CodeNotFound, "x"), IsNotFound, true},
		{"internal", Configuration("x"), IsInternal, true},
		{"unavailable", New(CodeUnavailableDependency, "x"), IsUnavailable, true},
		{"timeout", New(CodeTimeoutDependency, "x"), IsTimeout, true},
		{"retryable unavailable", New(CodeUnavailable, "x"), IsRetryable, true},
		{"retryable auth", Unauthorized("x"), IsRetryable, false},
		{"plain error", errors.New("x"), IsAuthentication, false},
		{"nil", nil, IsInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("check(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatus_PlainError(t *testing.T) {
	assert.Equal(t, 500, HTTPStatus(errors.New("x")))
	assert.Equal(t, 401, HTTPStatus(New(CodeAuthenticationMissing, "x")))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	e := New(CodeAuthorization, "no")
	assert.Same(t, e, FromError(fmt.Errorf("wrap: %w", e)))

	converted := FromError(errors.New("raw"))
	assert.Equal(t, CodeInternal, converted.Code)
	assert.EqualError(t, converted.Unwrap(), "raw")
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "x %d", 1))
	assert.Equal(t, "VAL_003: bad 7", Newf(CodeValidationFormat, "bad %d", 7).Error())
}
