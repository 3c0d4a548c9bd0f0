package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authgate/internal/testutil"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/lifecycle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServerConfig points the gateway at idp with the memory store and
// an ephemeral HTTP port.
func testServerConfig(idp *testutil.FakeIdP) *serverConfig {
	a := auth.DefaultConfig()
	a.TenantID = testutil.TenantID
	a.ClientID = testutil.ClientID
	a.Authority = idp.URL()
	a.AllowedAudiences = []string{testutil.ClientID}
	a.HTTPTimeout = 2 * time.Second

	return &serverConfig{
		HTTPAddr:        "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
		RefreshStore:    storeMemory,
		LogLevel:        "info",
		LogFormat:       "json",
		Auth:            a,
	}
}

// fakeHealth is a fixed [healthReporter].
type fakeHealth struct {
	err  error
	info lifecycle.Info
}

func (f fakeHealth) Health(context.Context) error { return f.err }
func (f fakeHealth) Info(context.Context) lifecycle.Info { return f.info }

// testGateway is a router over a real gate backed by a fake provider.
type testGateway struct {
	idp     *testutil.FakeIdP
	handler http.Handler
}

func newTestGateway(t *testing.T, role string, health healthReporter) *testGateway {
	t.Helper()
	idp := testutil.NewFakeIdP(t)
	cfg := testServerConfig(idp)

	reg := prometheus.NewRegistry()
	metrics, err := auth.NewMetrics(reg)
	require.NoError(t, err)
	opts := []auth.Option{auth.WithLogger(discardLogger()), auth.WithMetrics(metrics)}

	keys := auth.NewKeyCache(cfg.Auth, opts...)
	validator, err := auth.NewValidator(cfg.Auth, auth.NewKeyMatcher(keys, opts...), opts...)
	require.NoError(t, err)
	refresher, err := auth.NewRefreshManager(cfg.Auth, opts...)
	require.NoError(t, err)

	if health == nil {
		health = fakeHealth{info: lifecycle.Info{Name: "authgate", State: lifecycle.StateReady}}
	}
	return &testGateway{
		idp: idp,
		handler: newRouter(routerDeps{
			gate:         auth.NewGate(validator, refresher, opts...),
			health:       health,
			metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			requiredRole: role,
		}),
	}
}

func (g *testGateway) token(t *testing.T) string {
	t.Helper()
	return g.idp.Sign(t, testutil.DefaultKID, g.idp.UserClaims(time.Now().Add(time.Hour)))
}

func (g *testGateway) do(method, path, bearer string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// syncBuffer is a bytes.Buffer safe for a logger writing from several
// goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
