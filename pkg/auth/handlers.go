package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxRequestBodySize caps the refresh endpoint request body (1 MB).
const maxRequestBodySize = 1 << 20

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Success      bool   `json:"success"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// validateResponse reports a credential's state. Reason is null for a
// token that is valid and not due for refresh.
type validateResponse struct {
	Valid              bool    `json:"valid"`
	ExpiresAt          int64   `json:"expires_at"`
	SecondsUntilExpiry int64   `json:"seconds_until_expiry"`
	NeedsRefresh       bool    `json:"needs_refresh"`
	Reason             *string `json:"reason"`
	HasRefreshToken    bool    `json:"has_refresh_token"`
}

// RefreshHandler serves POST /api/auth/refresh. The body is
// {"refresh_token": "..."}; a successful exchange answers with the new
// pair, a failed one with 401 REFRESH_FAILED. A missing or unreadable
// body is 400 NO_REFRESH_TOKEN.
func (g *Gate) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.refresher == nil {
			g.reject(w, r, errGateNoRefresher)
			return
		}

		var req refreshRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, ErrCodeNoRefreshToken, "Refresh token required")
			return
		}
		token := strings.TrimSpace(req.RefreshToken)
		if token == "" {
			writeError(w, http.StatusBadRequest, ErrCodeNoRefreshToken, "Refresh token required")
			return
		}

		pair, err := g.refresher.Exchange(r.Context(), token, "")
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrCodeRefreshFailed, "Token refresh failed")
			return
		}
		writeJSON(w, http.StatusOK, refreshResponse{
			Success:      true,
			AccessToken:  pair.AccessToken.Value(),
			RefreshToken: pair.RefreshToken.Value(),
			ExpiresIn:    pair.ExpiresIn,
			TokenType:    "Bearer",
		})
	}
}

// ValidateHandler serves GET /api/auth/validate. It reports whether the
// presented access token verifies and whether it is due for refresh. A
// token is valid only when it verifies and is not due for refresh.
func (g *Gate) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.validator == nil || g.refresher == nil {
			g.reject(w, r, errGateIncomplete)
			return
		}

		creds := ExtractCredentials(r)
		if creds.Access == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"valid": false,
				"error": "No token provided",
			})
			return
		}

		resp := validateResponse{HasRefreshToken: creds.Refresh != ""}
		status := g.refresher.Status(creds.Access.Value())
		if !status.Known {
			resp.NeedsRefresh = true
			resp.Reason = reasonText("Error checking token")
			writeJSON(w, http.StatusOK, resp)
			return
		}

		resp.ExpiresAt = status.ExpiresAt.Unix()
		if status.Remaining > 0 {
			resp.SecondsUntilExpiry = int64(status.Remaining.Seconds())
		}
		resp.NeedsRefresh = status.NeedsRefresh

		if status.Expired {
			resp.Reason = reasonText("Token is expired")
		} else if _, err := g.validator.Validate(r.Context(), creds.Access.Value()); err != nil {
			resp.Reason = reasonText("Token is invalid")
		} else if status.NeedsRefresh {
			resp.Reason = reasonText("Token will expire soon")
		} else {
			resp.Valid = true
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func reasonText(s string) *string { return &s }
