package errors

import (
	"testing"
)

func TestCode_Category(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want string
	}{
		{name: "validation", code: CodeValidation, want: "VAL"},
		{name: "authentication missing", code: CodeAuthenticationMissing, want: "AUTH"},
		{name: "refresh failed", code: CodeAuthenticationRefreshFailed, want: "AUTH"},
		{name: "authorization", code: CodeAuthorization, want: "AUTHZ"},
		{name: "configuration", code: CodeInternalConfiguration, want: "INT"},
		{name: "unavailable dependency", code: CodeUnavailableDependency, want: "UNAVAIL"},
		{name: "timeout dependency", code: CodeTimeoutDependency, want: "TIMEOUT"},
		{name: "no separator", code: Code("CUSTOM"), want: "CUSTOM"},
		{name: "empty", code: Code(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("Code.Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCode_String(t *testing.T) {
	if got := CodeAuthenticationExpired.String(); got != "AUTH_002" {
		t.Errorf("Code.String() = %q, want %q", got, "AUTH_002")
	}
}
