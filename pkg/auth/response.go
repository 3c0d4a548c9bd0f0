package auth

import (
	"encoding/json"
	"net/http"
)

// Client-facing error codes carried in the error_code field of JSON
// error bodies.
const (
	ErrCodeNoToken        = "NO_TOKEN"
	ErrCodeNoRefreshToken = "NO_REFRESH_TOKEN"
	ErrCodeTokenExpired   = "TOKEN_EXPIRED"
	ErrCodeRefreshFailed  = "REFRESH_FAILED"
	ErrCodeInvalidToken   = "INVALID_TOKEN"
	ErrCodeAuthRequired   = "AUTHENTICATION_REQUIRED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

const (
	actionReauthenticate = "Please re-authenticate"
	contentTypeJSON      = "application/json; charset=utf-8"
)

type errorBody struct {
	Error          string `json:"error"`
	ErrorCode      string `json:"error_code"`
	ActionRequired string `json:"action_required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {error, error_code[, action_required]}. Expired and
// failed-refresh responses tell the client to sign in again.
func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{Error: message, ErrorCode: code}
	if code == ErrCodeTokenExpired || code == ErrCodeRefreshFailed {
		body.ActionRequired = actionReauthenticate
	}
	writeJSON(w, status, body)
}
