package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authgate/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func TestRefreshManager_Status(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	tests := []struct {
		name         string
		ttl          time.Duration
		wantExpired  bool
		wantNeedsRef bool
	}{
		{"fresh", time.Hour, false, false},
		{"inside threshold", 4 * time.Minute, false, true},
		{"just outside threshold", 6 * time.Minute, false, false},
		{"expired", -time.Minute, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := s.refresher.Status(s.token(t, tt.ttl))
			require.True(t, st.Known)
			assert.Equal(t, tt.wantExpired, st.Expired)
			assert.Equal(t, tt.wantNeedsRef, st.NeedsRefresh)
			assert.Equal(t, s.clock.Now().Add(tt.ttl).Unix(), st.ExpiresAt.Unix())
		})
	}

	t.Run("unreadable", func(t *testing.T) {
		assert.Equal(t, ExpiryStatus{}, s.refresher.Status("garbage"))
		noExp := s.signClaims(t, func(c jwt.MapClaims) { delete(c, "exp") })
		assert.False(t, s.refresher.Status(noExp).Known)
	})
}

// ---------------------------------------------------------------------------
// MaybeRefresh
// ---------------------------------------------------------------------------

func TestRefreshManager_MaybeRefreshSkipsWhenNotDue(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	ctx := context.Background()

	pair, err := s.refresher.MaybeRefresh(ctx, s.token(t, time.Hour), "R1", testutil.UserOID)
	require.NoError(t, err)
	assert.Nil(t, pair)

	pair, err = s.refresher.MaybeRefresh(ctx, "garbage", "R1", "")
	require.NoError(t, err)
	assert.Nil(t, pair)

	pair, err = s.refresher.MaybeRefresh(ctx, s.token(t, 2*time.Minute), "", testutil.UserOID)
	require.NoError(t, err, "an expiring token without a refresh token is still usable")
	assert.Nil(t, pair)

	assert.Equal(t, int64(0), s.idp.TokenRequests.Load())
}

func TestRefreshManager_ExpiredWithoutRefreshToken(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	pair, err := s.refresher.MaybeRefresh(context.Background(), s.token(t, -time.Minute), "", testutil.UserOID)
	require.Error(t, err)
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, ErrCodeTokenExpired, ClientCode(err))
	assert.Equal(t, int64(0), s.idp.TokenRequests.Load())
}

func TestRefreshManager_RefreshesExpiringToken(t *testing.T) {
	t.Parallel()
	s := newTestStack(t, func(c *Config) {
		c.ClientSecret = "s3cret"
		c.RefreshScopes = "openid offline_access"
	})

	pair, err := s.refresher.MaybeRefresh(context.Background(), s.token(t, 2*time.Minute), "R1", testutil.UserOID)
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.Equal(t, "refresh-R1", pair.RefreshToken.Value())
	assert.NotEmpty(t, pair.AccessToken.Value())
	assert.Equal(t, 3600, pair.ExpiresIn)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, testutil.UserOID, pair.Subject)
	assert.NotEmpty(t, pair.ExchangeID)

	form := s.idp.LastTokenForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "R1", form.Get("refresh_token"))
	assert.Equal(t, testutil.ClientID, form.Get("client_id"))
	assert.Equal(t, "s3cret", form.Get("client_secret"))
	assert.Equal(t, "openid offline_access", form.Get("scope"))

	rec, err := s.refresher.Record(context.Background(), testutil.UserOID)
	require.NoError(t, err)
	assert.Equal(t, "refresh-R1", rec.RefreshToken.Value())
	assert.Equal(t, pair.ExchangeID, rec.ExchangeID)
	assert.Equal(t, s.clock.Now(), rec.IssuedAt)

	assert.Equal(t, float64(1), promtest.ToFloat64(s.metrics.refreshes.WithLabelValues("success")))

	// The new access token verifies.
	_, err = s.validator.Validate(context.Background(), pair.AccessToken.Value())
	require.NoError(t, err)
}

func TestRefreshManager_RefreshesExpiredToken(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	pair, err := s.refresher.MaybeRefresh(context.Background(), s.token(t, -time.Hour), "R1", "")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, testutil.UserOID, pair.Subject, "subject comes from the new token")
}

func TestRefreshManager_PublicClientOmitsSecret(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	_, err := s.refresher.Exchange(context.Background(), "R1", "")
	require.NoError(t, err)
	_, present := s.idp.LastTokenForm()["client_secret"]
	assert.False(t, present)
}

// ---------------------------------------------------------------------------
// Exchange responses
// ---------------------------------------------------------------------------

func TestRefreshManager_ProviderRejection(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	s.idp.SetTokenResponse(http.StatusBadRequest, map[string]string{
		"error":             "invalid_grant",
		"error_description": "AADSTS70008: The refresh token has expired",
	})

	pair, err := s.refresher.MaybeRefresh(context.Background(), s.token(t, -time.Minute), "R1", testutil.UserOID)
	require.Error(t, err)
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, ErrCodeRefreshFailed, ClientCode(err))

	_, err = s.refresher.Record(context.Background(), testutil.UserOID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Equal(t, float64(1), promtest.ToFloat64(s.metrics.refreshes.WithLabelValues("failed")))
}

func TestRefreshManager_ResponseShapes(t *testing.T) {
	t.Parallel()

	t.Run("expires_in as string", func(t *testing.T) {
		t.Parallel()
		s := newTestStack(t)
		s.idp.SetTokenResponse(http.StatusOK, map[string]any{
			"access_token":  s.token(t, time.Hour),
			"refresh_token": "R2",
			"expires_in":    "1800",
		})
		pair, err := s.refresher.Exchange(context.Background(), "R1", "")
		require.NoError(t, err)
		assert.Equal(t, 1800, pair.ExpiresIn)
		assert.Equal(t, "R2", pair.RefreshToken.Value())
		assert.Equal(t, "Bearer", pair.TokenType)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		s := newTestStack(t)
		s.idp.SetTokenResponse(http.StatusOK, map[string]any{"access_token": "opaque"})
		pair, err := s.refresher.Exchange(context.Background(), "R1", "caller")
		require.NoError(t, err)
		assert.Equal(t, defaultExpiresIn, pair.ExpiresIn)
		assert.Equal(t, "R1", pair.RefreshToken.Value(), "presented token is kept when none is returned")
		assert.Equal(t, "caller", pair.Subject)

		rec, err := s.refresher.Record(context.Background(), "caller")
		require.NoError(t, err)
		assert.Equal(t, "R1", rec.RefreshToken.Value())
	})

	t.Run("missing access token", func(t *testing.T) {
		t.Parallel()
		s := newTestStack(t)
		s.idp.SetTokenResponse(http.StatusOK, map[string]any{"refresh_token": "R2"})
		_, err := s.refresher.Exchange(context.Background(), "R1", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshFailed)
	})

	t.Run("unparseable body", func(t *testing.T) {
		t.Parallel()
		s := newTestStack(t)
		s.idp.SetTokenResponse(http.StatusOK, "not an object")
		_, err := s.refresher.Exchange(context.Background(), "R1", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshFailed)
	})
}

func TestRefreshManager_ExchangeRequiresToken(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	_, err := s.refresher.Exchange(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, sserr.IsValidation(err))
	assert.Equal(t, int64(0), s.idp.TokenRequests.Load())
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestRefreshManager_ConcurrentExchangesCollapse(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	s.idp.SetTokenDelay(200 * time.Millisecond)

	const callers = 10
	pairs := make([]*TokenPair, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := s.refresher.Exchange(context.Background(), "R1", testutil.UserOID)
			assert.NoError(t, err)
			pairs[i] = pair
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), s.idp.TokenRequests.Load())
	for _, p := range pairs[1:] {
		assert.Same(t, pairs[0], p)
	}
}

// inflightClient counts concurrent requests passing through it.
type inflightClient struct {
	next    HTTPClient
	delay   time.Duration
	current atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64
}

func (c *inflightClient) Do(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	n := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(c.delay)
	return c.next.Do(req)
}

func TestRefreshManager_SameSubjectSerializesAcrossTokens(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	client := &inflightClient{next: http.DefaultClient, delay: 150 * time.Millisecond}
	refresher, err := NewRefreshManager(s.cfg,
		WithHTTPClient(client),
		WithLogger(discardLogger()),
		WithRefreshStore(s.store),
	)
	require.NoError(t, err)

	tokens := []string{"R-tab1", "R-tab2", "R-tab3"}
	pairs := make([]*TokenPair, len(tokens))
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := refresher.Exchange(context.Background(), token, testutil.UserOID)
			assert.NoError(t, err)
			pairs[i] = pair
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), client.peak.Load(), "one exchange in flight per subject")
	assert.Equal(t, int64(1), client.calls.Load())
	for _, p := range pairs[1:] {
		assert.Same(t, pairs[0], p)
	}
}

func TestRefreshManager_UnknownSubjectsCollapseByToken(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	s.idp.SetTokenDelay(100 * time.Millisecond)

	var wg sync.WaitGroup
	for _, token := range []string{"R1", "R1", "R2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.refresher.Exchange(context.Background(), token, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(2), s.idp.TokenRequests.Load())
}

func TestFlightKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, flightKey("oid-1", "R1"), flightKey("oid-1", "R2"))
	assert.NotEqual(t, flightKey("", "R1"), flightKey("", "R2"))
	assert.NotEqual(t, flightKey("oid-1", "R1"), flightKey("oid-2", "R1"))
	assert.NotContains(t, flightKey("", "R1"), "R1")
}

func TestRefreshManager_AbandonedExchangeIsStillRecorded(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	s.idp.SetTokenDelay(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.refresher.Exchange(ctx, "R1", testutil.UserOID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.Eventually(t, func() bool {
		rec, err := s.refresher.Record(context.Background(), testutil.UserOID)
		return err == nil && rec.RefreshToken.Value() == "refresh-R1"
	}, 2*time.Second, 20*time.Millisecond)
}

// failingStore rejects every write.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*RefreshRecord, error) {
	return nil, ErrRecordNotFound
}

func (failingStore) Set(context.Context, string, RefreshRecord, time.Duration) error {
	return sserr.New(sserr.CodeInternalDatabase, "store down")
}

func TestRefreshManager_StoreFailureKeepsPair(t *testing.T) {
	t.Parallel()
	idp := testutil.NewFakeIdP(t)
	m, err := NewRefreshManager(testConfig(idp),
		WithRefreshStore(failingStore{}),
		WithLogger(discardLogger()))
	require.NoError(t, err)

	pair, err := m.Exchange(context.Background(), "R1", "")
	require.NoError(t, err)
	assert.Equal(t, "refresh-R1", pair.RefreshToken.Value())
}

func TestNewRefreshManager_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewRefreshManager(Config{})
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
}
