package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authgate/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

func TestKeyCache_FetchesOncePerTTL(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	ctx := context.Background()

	for range 5 {
		set, err := s.keys.Keys(ctx, SchemaV2)
		require.NoError(t, err)
		_, ok := set.Lookup(testutil.DefaultKID)
		assert.True(t, ok)
	}
	assert.Equal(t, int64(1), s.idp.V2KeyFetches.Load())

	s.clock.Advance(s.cfg.KeyCacheTTL + time.Second)
	_, err := s.keys.Keys(ctx, SchemaV2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.idp.V2KeyFetches.Load())
	assert.Equal(t, float64(2), promtest.ToFloat64(s.metrics.keyFetches.WithLabelValues("v2", "success")))
}

func TestKeyCache_VersionsUseSeparateEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	set, err := s.keys.Keys(context.Background(), SchemaV1)
	require.NoError(t, err)
	assert.Equal(t, SchemaV1, set.Version)
	assert.Equal(t, int64(1), s.idp.V1KeyFetches.Load())
	assert.Equal(t, int64(0), s.idp.V2KeyFetches.Load())

	_, ok := s.keys.Cached(SchemaV2)
	assert.False(t, ok)
}

func TestKeyCache_ServesStaleSetWhenRefetchFails(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	ctx := context.Background()

	first, err := s.keys.Keys(ctx, SchemaV2)
	require.NoError(t, err)

	s.idp.SetKeysDown(true)
	s.clock.Advance(s.cfg.KeyCacheTTL + time.Minute)

	got, err := s.keys.Keys(ctx, SchemaV2)
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.False(t, got.Fresh(s.clock.Now()))
	assert.Equal(t, int64(2), s.idp.V2KeyFetches.Load())
	assert.Equal(t, float64(1), promtest.ToFloat64(s.metrics.keyFetches.WithLabelValues("v2", "stale")))

	// Retries against a failing provider are throttled.
	_, err = s.keys.Keys(ctx, SchemaV2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.idp.V2KeyFetches.Load())

	s.idp.SetKeysDown(false)
	s.clock.Advance(s.cfg.KeyMinRefreshInterval + time.Second)
	got, err = s.keys.Keys(ctx, SchemaV2)
	require.NoError(t, err)
	assert.True(t, got.Fresh(s.clock.Now()))
	assert.Equal(t, int64(3), s.idp.V2KeyFetches.Load())
}

func TestKeyCache_FailsWhenNothingCached(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	s.idp.SetKeysDown(true)

	set, err := s.keys.Keys(context.Background(), SchemaV2)
	require.Error(t, err)
	assert.Nil(t, set)
	assert.ErrorIs(t, err, ErrKeyFetch)
	assert.True(t, sserr.IsUnavailable(err))
	assert.Equal(t, float64(1), promtest.ToFloat64(s.metrics.keyFetches.WithLabelValues("v2", "failed")))

	// With nothing cached every call retries.
	_, err = s.keys.Keys(context.Background(), SchemaV2)
	require.Error(t, err)
	assert.Equal(t, int64(2), s.idp.V2KeyFetches.Load())
}

func TestKeyCache_RefreshIsThrottled(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)
	ctx := context.Background()

	_, err := s.keys.Keys(ctx, SchemaV2)
	require.NoError(t, err)

	_, err = s.keys.Refresh(ctx, SchemaV2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.idp.V2KeyFetches.Load())
	assert.Equal(t, float64(1), promtest.ToFloat64(s.metrics.keyFetches.WithLabelValues("v2", "throttled")))

	s.clock.Advance(s.cfg.KeyMinRefreshInterval + time.Second)
	_, err = s.keys.Refresh(ctx, SchemaV2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.idp.V2KeyFetches.Load())
}

func TestKeyCache_ConcurrentCallersShareOneFetch(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.keys.Keys(context.Background(), SchemaV2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), s.idp.V2KeyFetches.Load())
}

// gatedClient holds every request until release is closed.
type gatedClient struct {
	release chan struct{}
}

func (c *gatedClient) Do(req *http.Request) (*http.Response, error) {
	<-c.release
	return http.DefaultClient.Do(req)
}

func TestKeyCache_CancelledCallerDoesNotAbortFetch(t *testing.T) {
	t.Parallel()
	idp := testutil.NewFakeIdP(t)
	client := &gatedClient{release: make(chan struct{})}
	cache := NewKeyCache(testConfig(idp), WithHTTPClient(client), WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.Keys(ctx, SchemaV2)
		errCh <- err
	}()

	cancel()
	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyFetch)
	assert.True(t, errors.Is(err, context.Canceled))

	close(client.release)
	assert.Eventually(t, func() bool {
		_, ok := cache.Cached(SchemaV2)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), idp.V2KeyFetches.Load())
}

func TestKeyCache_UnknownVersion(t *testing.T) {
	t.Parallel()
	s := newTestStack(t)

	_, err := s.keys.Keys(context.Background(), SchemaVersion("v3"))
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
}
