package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authgate/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// Shared fixtures
// ---------------------------------------------------------------------------

// fakeClock is a settable [Clock].
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig points every endpoint at idp.
func testConfig(idp *testutil.FakeIdP) Config {
	cfg := DefaultConfig()
	cfg.TenantID = testutil.TenantID
	cfg.ClientID = testutil.ClientID
	cfg.Authority = idp.URL()
	cfg.AllowedAudiences = []string{testutil.ClientID}
	cfg.HTTPTimeout = 2 * time.Second
	return cfg
}

// testStack wires a key cache, validator and refresh manager against one
// fake provider, sharing a clock and a private metrics registry.
type testStack struct {
	idp       *testutil.FakeIdP
	cfg       Config
	clock     *fakeClock
	registry  *prometheus.Registry
	metrics   *Metrics
	store     *MemoryRefreshStore
	keys      *KeyCache
	validator *Validator
	refresher *RefreshManager
}

func newTestStack(t *testing.T, mutate ...func(*Config)) *testStack {
	t.Helper()
	idp := testutil.NewFakeIdP(t)
	cfg := testConfig(idp)
	for _, fn := range mutate {
		fn(&cfg)
	}

	s := &testStack{
		idp:      idp,
		cfg:      cfg,
		clock:    newFakeClock(),
		registry: prometheus.NewRegistry(),
		store:    NewMemoryRefreshStore(),
	}
	var err error
	s.metrics, err = NewMetrics(s.registry)
	require.NoError(t, err)

	opts := []Option{
		WithClock(s.clock),
		WithLogger(discardLogger()),
		WithMetrics(s.metrics),
		WithRefreshStore(s.store),
	}
	s.keys = NewKeyCache(cfg, opts...)
	s.validator, err = NewValidator(cfg, NewKeyMatcher(s.keys, opts...), opts...)
	require.NoError(t, err)
	s.refresher, err = NewRefreshManager(cfg, opts...)
	require.NoError(t, err)
	return s
}

// token signs the default user claims expiring ttl after the stack clock.
func (s *testStack) token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	return s.idp.Sign(t, testutil.DefaultKID, s.idp.UserClaims(s.clock.Now().Add(ttl)))
}

// stubValidator is a [TokenValidator] that accepts a fixed set of tokens.
type stubValidator struct {
	accept map[string]*VerifiedIdentity
	err    error
}

func (s *stubValidator) Validate(_ context.Context, raw string) (*VerifiedIdentity, error) {
	if id, ok := s.accept[raw]; ok {
		return id, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, sserr.Wrap(&TokenRejected{Reason: ReasonMalformed}, sserr.CodeAuthenticationInvalid, "auth: token rejected")
}

func testIdentity(roles ...string) *VerifiedIdentity {
	return &VerifiedIdentity{
		subject:   testutil.UserOID,
		principal: testutil.UserUPN,
		name:      testutil.UserName,
		roles:     roles,
		tenantID:  testutil.TenantID,
		version:   SchemaV2,
		expiresAt: time.Now().Add(time.Hour),
	}
}
