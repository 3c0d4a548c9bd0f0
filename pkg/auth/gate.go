package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// Header and cookie names used for credential transport.
const (
	HeaderAuthorization   = "Authorization"
	HeaderRefreshToken    = "X-Refresh-Token"
	HeaderNewAccessToken  = "X-New-Access-Token"
	HeaderNewRefreshToken = "X-New-Refresh-Token"
	HeaderTokenExpiresIn  = "X-Token-Expires-In"

	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
)

const bearerPrefix = "Bearer "

// ErrNoToken is reported when a request carries no access token.
var ErrNoToken = sserr.New(sserr.CodeAuthenticationMissing, "auth: no access token provided")

var (
	errGateNoValidator = sserr.Configuration("auth: gate has no token validator")
	errGateNoRefresher = sserr.Configuration("auth: gate has no refresh manager")
	errGateIncomplete  = sserr.Configuration("auth: gate requires a validator and a refresh manager")
)

// Credentials are the tokens presented with a request.
type Credentials struct {
	Access  Secret
	Refresh Secret
}

// ExtractBearerToken returns the token from an "Authorization: Bearer"
// header value, matching the scheme case-insensitively. It returns "" for
// any other scheme.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// ExtractCredentials reads the access token from the Authorization header
// and the refresh token from X-Refresh-Token. Each falls back to its
// cookie when the header is absent.
func ExtractCredentials(r *http.Request) Credentials {
	creds := Credentials{
		Access:  Secret(ExtractBearerToken(r.Header.Get(HeaderAuthorization))),
		Refresh: Secret(strings.TrimSpace(r.Header.Get(HeaderRefreshToken))),
	}
	if creds.Access == "" {
		if c, err := r.Cookie(CookieAccessToken); err == nil {
			creds.Access = Secret(c.Value)
		}
	}
	if creds.Refresh == "" {
		if c, err := r.Cookie(CookieRefreshToken); err == nil {
			creds.Refresh = Secret(c.Value)
		}
	}
	return creds
}

// ---------------------------------------------------------------------------
// Gate
// ---------------------------------------------------------------------------

// Gate is HTTP middleware that admits only requests carrying a valid
// access token and attaches the caller's [VerifiedIdentity] to the request
// context. It composes like any func(http.Handler) http.Handler and has a
// gRPC form in [Gate.UnaryServerInterceptor].
//
// Two variants:
//   - [Gate.Require] validates and rejects. It never talks to the token
//     endpoint.
//   - [Gate.RequireWithRefresh] first renews an access token that is
//     expired or close to expiry, then validates the renewed token.
//
// Every rejection is a JSON body {error, error_code, message}. The
// error_code is one of NO_TOKEN, TOKEN_EXPIRED, REFRESH_FAILED or
// INVALID_TOKEN (401), or CONFIGURATION_ERROR (500) for a gate built
// without the components a variant needs. Rejection details are logged;
// the body never says why a token was invalid.
type Gate struct {
	validator TokenValidator
	refresher *RefreshManager
	logger    *slog.Logger
}

// NewGate returns a Gate. refresher may be nil when only [Gate.Require] is
// used. Only [WithLogger] applies.
func NewGate(validator TokenValidator, refresher *RefreshManager, opts ...Option) *Gate {
	o := buildOptions(opts)
	return &Gate{validator: validator, refresher: refresher, logger: o.logger}
}

// Require validates the access token and rejects the request with 401
// NO_TOKEN or INVALID_TOKEN. It never refreshes.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.validator == nil {
			g.reject(w, r, errGateNoValidator)
			return
		}
		creds := ExtractCredentials(r)
		if creds.Access == "" {
			g.reject(w, r, ErrNoToken)
			return
		}
		identity, err := g.validator.Validate(r.Context(), creds.Access.Value())
		if err != nil {
			g.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

// RequireWithRefresh is [Gate.Require] with silent refresh. An access
// token that is expired or about to expire is exchanged using the
// presented refresh token; the request then proceeds with the new access
// token and the response carries the new pair in X-New-Access-Token,
// X-New-Refresh-Token and X-Token-Expires-In.
//
// Rejections: NO_TOKEN, TOKEN_EXPIRED (expired, no refresh token),
// REFRESH_FAILED and INVALID_TOKEN, all 401.
func (g *Gate) RequireWithRefresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.validator == nil || g.refresher == nil {
			g.reject(w, r, errGateIncomplete)
			return
		}
		creds := ExtractCredentials(r)
		if creds.Access == "" {
			g.reject(w, r, ErrNoToken)
			return
		}

		ctx := r.Context()
		access := creds.Access.Value()
		pair, err := g.refresher.MaybeRefresh(ctx, access, creds.Refresh.Value(), unverifiedSubject(access))
		if err != nil {
			g.reject(w, r, err)
			return
		}
		if pair != nil {
			access = pair.AccessToken.Value()
			ctx = ContextWithRefreshedPair(ctx, pair)
			g.logger.InfoContext(ctx, "auth: access token refreshed in request",
				"subject", pair.Subject, "exchange_id", pair.ExchangeID)
		}

		identity, err := g.validator.Validate(ctx, access)
		if err != nil {
			g.reject(w, r, err)
			return
		}

		if pair != nil {
			h := w.Header()
			h.Set(HeaderNewAccessToken, pair.AccessToken.Value())
			h.Set(HeaderNewRefreshToken, pair.RefreshToken.Value())
			h.Set(HeaderTokenExpiresIn, strconv.Itoa(pair.ExpiresIn))
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	code := ClientCode(err)
	status := http.StatusUnauthorized
	switch code {
	case ErrCodeConfiguration, ErrCodeInternal:
		status = http.StatusInternalServerError
		g.logger.ErrorContext(r.Context(), "auth: gate misconfigured", "error", err, "path", r.URL.Path)
	case ErrCodeForbidden:
		status = http.StatusForbidden
	default:
		g.logger.DebugContext(r.Context(), "auth: request rejected", "error_code", code, "path", r.URL.Path)
	}
	writeError(w, status, code, clientMessage(code))
}

// ClientCode maps an error from the auth pipeline to the code sent to
// clients. Rejection reasons are collapsed into INVALID_TOKEN.
func ClientCode(err error) string {
	if err == nil {
		return ""
	}
	var rej *TokenRejected
	if errors.As(err, &rej) {
		return ErrCodeInvalidToken
	}
	switch sserr.GetCode(err) {
	case sserr.CodeAuthenticationMissing:
		return ErrCodeNoToken
	case sserr.CodeAuthenticationExpired:
		return ErrCodeTokenExpired
	case sserr.CodeAuthenticationRefreshFailed:
		return ErrCodeRefreshFailed
	case sserr.CodeAuthentication, sserr.CodeAuthenticationInvalid:
		return ErrCodeInvalidToken
	case sserr.CodeAuthorization:
		return ErrCodeForbidden
	case sserr.CodeInternalConfiguration:
		return ErrCodeConfiguration
	}
	return ErrCodeInternal
}

func clientMessage(code string) string {
	switch code {
	case ErrCodeNoToken:
		return "Authorization header is missing or invalid"
	case ErrCodeTokenExpired:
		return "Token expired and no refresh token available"
	case ErrCodeRefreshFailed:
		return "Token expired and refresh failed"
	case ErrCodeInvalidToken:
		return "Invalid or expired token"
	case ErrCodeForbidden:
		return "Insufficient permissions"
	case ErrCodeConfiguration:
		return "Authentication is not configured"
	}
	return "Internal server error"
}

// unverifiedSubject reads oid without verification. It only scopes
// refresh deduplication and is never used to authorize.
func unverifiedSubject(raw string) string {
	tok, err := ParseUnverified(raw)
	if err != nil {
		return ""
	}
	return tok.StringClaim("oid")
}
