package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

const (
	// defaultExpiresIn applies when the token endpoint omits expires_in.
	defaultExpiresIn = 3600

	// maxTokenResponseSize caps a token endpoint response body (1 MB).
	maxTokenResponseSize = 1 << 20
)

var (
	// ErrTokenExpired is returned by [RefreshManager.MaybeRefresh] when the
	// access token has expired and no refresh token was presented.
	ErrTokenExpired = sserr.New(sserr.CodeAuthenticationExpired,
		"auth: access token expired and no refresh token is available")

	// ErrRefreshFailed is returned when a refresh exchange was attempted and
	// the provider rejected it or could not be reached. Callers treat it as
	// "refresh unavailable" and must not retry inline. Returned errors wrap
	// it together with the cause; test with errors.Is.
	ErrRefreshFailed = sserr.New(sserr.CodeAuthenticationRefreshFailed, "auth: token refresh failed")
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// ExpiryStatus describes an access token's remaining lifetime, read from
// its unverified exp claim.
type ExpiryStatus struct {
	// Known is false when the exp claim could not be read. All other
	// fields are then zero.
	Known bool

	ExpiresAt time.Time
	Remaining time.Duration

	// Expired is true once exp has passed.
	Expired bool

	// NeedsRefresh is true when the remaining lifetime is below the
	// refresh threshold, including when Expired is true.
	NeedsRefresh bool
}

// TokenPair is the result of a successful refresh exchange.
type TokenPair struct {
	AccessToken  Secret
	RefreshToken Secret
	ExpiresIn    int
	TokenType    string

	// Subject is the oid of the new access token, or the subject passed to
	// the exchange when the new token does not carry one.
	Subject string

	// ExchangeID correlates the exchange with its stored record and logs.
	ExchangeID string
}

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    seconds `json:"expires_in"`
	TokenType    string  `json:"token_type"`
}

// seconds decodes a JSON number or a numeric string; some token endpoints
// send expires_in as a string.
type seconds int

func (s *seconds) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n == "" {
		*s = 0
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		return err
	}
	*s = seconds(v)
	return nil
}

// tokenErrorResponse is the token endpoint's OAuth2 error body.
type tokenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// ---------------------------------------------------------------------------
// RefreshManager
// ---------------------------------------------------------------------------

// RefreshManager decides when an access token is due for renewal and
// performs the OAuth2 refresh-token grant against the provider's token
// endpoint. Successful exchanges are recorded per subject in a
// [RefreshStore].
//
// The exchange:
//   - is due when the unverified exp is less than [Config.RefreshThreshold]
//     away, or already past
//   - POSTs grant_type=refresh_token with the refresh token, client ID,
//     client secret (when configured) and [Config.RefreshScopes]
//   - succeeds only on HTTP 200; a response without a refresh token keeps
//     the presented one
//   - maps every other outcome to [ErrRefreshFailed], logging the provider
//     status and OAuth2 error code
//
// Concurrent exchanges for the same subject are collapsed into one call to
// the provider, whichever refresh token each caller presents; every caller
// receives the same pair. Exchanges with no known subject are collapsed by
// refresh token instead. The call runs detached from the caller's context
// with its own timeout, so a result that arrives after the caller gave up
// is still recorded.
//
// RefreshManager is safe for concurrent use.
type RefreshManager struct {
	tokenURL     string
	clientID     string
	clientSecret Secret
	scopes       string
	threshold    time.Duration
	recordTTL    time.Duration
	timeout      time.Duration

	client  HTTPClient
	clock   Clock
	store   RefreshStore
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	group singleflight.Group
}

// NewRefreshManager returns a RefreshManager for cfg. It honors
// [WithHTTPClient], [WithClock], [WithRefreshStore], [WithLogger] and
// [WithMetrics].
func NewRefreshManager(cfg Config, opts ...Option) (*RefreshManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if o.store == nil {
		o.store = NewMemoryRefreshStore()
	}
	return &RefreshManager{
		tokenURL:     cfg.TokenURL(),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.RefreshScopes,
		threshold:    cfg.RefreshThreshold,
		recordTTL:    cfg.RefreshRecordTTL,
		timeout:      cfg.HTTPTimeout,
		client:       o.httpClient,
		clock:        o.clock,
		store:        o.store,
		logger:       o.logger,
		metrics:      o.metrics,
		tracer:       otel.Tracer(tracerName),
	}, nil
}

// ---------------------------------------------------------------------------
// Expiry and exchange
// ---------------------------------------------------------------------------

// Status reads the expiry of access without verifying it. The result is
// only used to decide whether to refresh, never to authorize.
func (m *RefreshManager) Status(access string) ExpiryStatus {
	tok, err := ParseUnverified(access)
	if err != nil {
		return ExpiryStatus{}
	}
	exp, ok := tok.ExpiresAt()
	if !ok {
		return ExpiryStatus{}
	}
	remaining := exp.Sub(m.clock.Now())
	return ExpiryStatus{
		Known:        true,
		ExpiresAt:    exp,
		Remaining:    remaining,
		Expired:      remaining <= 0,
		NeedsRefresh: remaining < m.threshold,
	}
}

// MaybeRefresh exchanges refresh for a new pair when access is expired or
// within the refresh threshold. It returns (nil, nil) when no refresh is
// due, or when exp cannot be read (validation will reject such a token).
//
// An expired access token with no refresh token yields [ErrTokenExpired].
// An expiring but still valid token with no refresh token yields
// (nil, nil) so the caller can keep using it. A failed exchange yields an
// error wrapping [ErrRefreshFailed].
func (m *RefreshManager) MaybeRefresh(ctx context.Context, access, refresh, subject string) (*TokenPair, error) {
	status := m.Status(access)
	if !status.Known || !status.NeedsRefresh {
		return nil, nil
	}
	if refresh == "" {
		if status.Expired {
			return nil, ErrTokenExpired
		}
		return nil, nil
	}
	return m.Exchange(ctx, refresh, subject)
}

// Exchange performs the refresh grant unconditionally. subject may be
// empty; the record is then stored under the new token's oid.
func (m *RefreshManager) Exchange(ctx context.Context, refresh, subject string) (*TokenPair, error) {
	if refresh == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: refresh token is required")
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(flightKey(subject, refresh), func() (any, error) {
		return m.exchange(detached, refresh, subject)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenPair), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	}
}

// flightKey partitions exchanges by subject. Callers that do not know the
// subject fall back to the refresh token hash.
func flightKey(subject, refresh string) string {
	if subject != "" {
		return "sub:" + subject
	}
	return "tok:" + tokenHash(refresh)
}

func (m *RefreshManager) exchange(ctx context.Context, refresh, subject string) (*TokenPair, error) {
	ctx, span := startSpan(ctx, m.tracer, "auth.RefreshManager.exchange")
	defer span.End()

	exchangeID := uuid.NewString()
	span.SetAttributes(attribute.String("auth.exchange_id", exchangeID))
	logger := m.logger.With("exchange_id", exchangeID, "subject", subject)

	resp, err := m.postRefreshGrant(ctx, refresh)
	if err != nil {
		m.metrics.refresh("failed")
		finishSpan(span, err)
		attrs := []any{"error", err}
		if e, ok := sserr.AsError(err); ok {
			for k, v := range e.Details {
				attrs = append(attrs, k, v)
			}
		}
		logger.WarnContext(ctx, "auth: token refresh failed", attrs...)
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	pair := &TokenPair{
		AccessToken:  Secret(resp.AccessToken),
		RefreshToken: Secret(resp.RefreshToken),
		ExpiresIn:    int(resp.ExpiresIn),
		TokenType:    resp.TokenType,
		Subject:      subject,
		ExchangeID:   exchangeID,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = Secret(refresh)
	}
	if pair.ExpiresIn <= 0 {
		pair.ExpiresIn = defaultExpiresIn
	}
	if pair.TokenType == "" {
		pair.TokenType = "Bearer"
	}
	if tok, err := ParseUnverified(resp.AccessToken); err == nil {
		if oid := tok.StringClaim("oid"); oid != "" {
			pair.Subject = oid
		}
	}

	m.metrics.refresh("success")
	logger.InfoContext(ctx, "auth: token refreshed", "expires_in", pair.ExpiresIn)

	if pair.Subject != "" {
		rec := RefreshRecord{
			Subject:      pair.Subject,
			RefreshToken: pair.RefreshToken,
			IssuedAt:     m.clock.Now(),
			ExchangeID:   exchangeID,
		}
		if err := m.store.Set(ctx, pair.Subject, rec, m.recordTTL); err != nil {
			// The pair is still valid; only the bookkeeping failed.
			logger.ErrorContext(ctx, "auth: failed to store refresh record", "error", err)
		}
	}
	return pair, nil
}

// Record returns the stored refresh record for subject.
func (m *RefreshManager) Record(ctx context.Context, subject string) (*RefreshRecord, error) {
	return m.store.Get(ctx, subject)
}

func (m *RefreshManager) postRefreshGrant(ctx context.Context, refresh string) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
		"client_id":     {m.clientID},
	}
	if m.clientSecret != "" {
		form.Set("client_secret", m.clientSecret.Value())
	}
	if m.scopes != "" {
		form.Set("scope", m.scopes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr tokenErrorResponse
		_ = json.Unmarshal(body, &oauthErr)
		return nil, sserr.Newf(sserr.CodeAuthenticationRefreshFailed,
			"auth: token endpoint returned status %d", resp.StatusCode).
			WithDetails(map[string]any{
				"status":      resp.StatusCode,
				"oauth_error": oauthErr.Error,
			})
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("auth: failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("auth: token response has no access_token")
	}
	return &tr, nil
}
