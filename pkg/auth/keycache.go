package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// KeySet: one schema version's signing keys
// ---------------------------------------------------------------------------

// maxKeySetSize caps a JWKS response body (1 MB).
const maxKeySetSize = 1 << 20

// ErrKeyFetch is returned by [KeyCache.Keys] when the signing keys for a
// version could not be fetched and no earlier set is cached. Returned
// errors wrap it together with the underlying cause; test with errors.Is.
var ErrKeyFetch = sserr.New(sserr.CodeUnavailableDependency, "auth: signing keys unavailable")

// KeySet is an immutable snapshot of one version's signing keys.
type KeySet struct {
	Version   SchemaVersion
	Keys      []SigningKey
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the set is still inside its TTL at now.
func (s *KeySet) Fresh(now time.Time) bool {
	return now.Before(s.FetchedAt.Add(s.TTL))
}

// Lookup scans the set for kid.
func (s *KeySet) Lookup(kid string) (*SigningKey, bool) {
	for i := range s.Keys {
		if s.Keys[i].KID == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// KeyCache
// ---------------------------------------------------------------------------

// KeyCache fetches and caches the provider's signing keys, one [KeySet]
// per [SchemaVersion]. v1 and v2 tokens are published on different
// discovery endpoints and are cached independently.
//
// Freshness rules:
//   - A set inside its TTL ([Config.KeyCacheTTL]) is served without I/O.
//   - An expired set is refetched. A successful fetch replaces the set
//     atomically and restarts its TTL.
//   - A failed fetch keeps the previous set in service, even when expired,
//     and is logged. [ErrKeyFetch] is returned only when nothing was ever
//     cached for the version.
//   - [KeyCache.Refresh] forces a refetch, at most once per
//     [Config.KeyMinRefreshInterval]. Retries after a failed fetch wait out
//     the same interval.
//
// At most one fetch per version is in flight. It runs detached from the
// caller's context with its own timeout ([Config.HTTPTimeout]), so a
// cancelled request never aborts a fetch that other requests wait on; the
// cancelled caller gets the cached set if there is one.
//
// KeyCache is safe for concurrent use.
type KeyCache struct {
	urls        map[SchemaVersion]string
	ttl         time.Duration
	minInterval time.Duration
	timeout     time.Duration

	client  HTTPClient
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu          sync.RWMutex
	sets        map[SchemaVersion]*KeySet
	lastAttempt map[SchemaVersion]time.Time
	group       singleflight.Group
}

// NewKeyCache creates a KeyCache for the key endpoints in cfg. It honors
// [WithHTTPClient], [WithClock], [WithLogger] and [WithMetrics].
func NewKeyCache(cfg Config, opts ...Option) *KeyCache {
	o := buildOptions(opts)
	return &KeyCache{
		urls: map[SchemaVersion]string{
			SchemaV1: cfg.KeysURL(SchemaV1),
			SchemaV2: cfg.KeysURL(SchemaV2),
		},
		ttl:         cfg.KeyCacheTTL,
		minInterval: cfg.KeyMinRefreshInterval,
		timeout:     cfg.HTTPTimeout,
		client:      o.httpClient,
		clock:       o.clock,
		logger:      o.logger,
		metrics:     o.metrics,
		tracer:      otel.Tracer(tracerName),
		sets:        make(map[SchemaVersion]*KeySet),
		lastAttempt: make(map[SchemaVersion]time.Time),
	}
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// Keys returns the key set for version, fetching it when absent or
// expired. An expired set is refetched on every call except within the
// minimum refresh interval of a failed attempt; the stale set is served
// meanwhile.
func (c *KeyCache) Keys(ctx context.Context, version SchemaVersion) (*KeySet, error) {
	if set, ok := c.Cached(version); ok && set.Fresh(c.clock.Now()) {
		return set, nil
	}
	return c.load(ctx, version, false)
}

// Refresh forces a refetch for version, as needed when a token names a
// kid the cached set does not contain. Forced refetches are throttled by
// the configured minimum refresh interval; a throttled call returns the
// cached set unchanged.
func (c *KeyCache) Refresh(ctx context.Context, version SchemaVersion) (*KeySet, error) {
	return c.load(ctx, version, true)
}

// Cached returns the current set for version without any I/O. The set
// may be expired.
func (c *KeyCache) Cached(version SchemaVersion) (*KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[version]
	return set, ok
}

func (c *KeyCache) load(ctx context.Context, version SchemaVersion, force bool) (*KeySet, error) {
	url, ok := c.urls[version]
	if !ok {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "auth: unknown schema version %q", version)
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(version), func() (any, error) {
		return c.fetchAndStore(detached, version, url, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		if set, ok := c.Cached(version); ok {
			return set, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, ctx.Err())
	}
}

// ---------------------------------------------------------------------------
// Fetching
// ---------------------------------------------------------------------------

// fetchAndStore runs inside the single flight for version.
func (c *KeyCache) fetchAndStore(ctx context.Context, version SchemaVersion, url string, force bool) (*KeySet, error) {
	now := c.clock.Now()

	c.mu.RLock()
	prev := c.sets[version]
	last := c.lastAttempt[version]
	c.mu.RUnlock()

	// A flight that finished just before this one may already have
	// replaced the set.
	if prev != nil && !force && prev.Fresh(now) {
		return prev, nil
	}
	// Forced refetches and retries after a failure back off for
	// minInterval. A successful fetch keeps the set fresh for at least
	// that long, so TTL expiry alone is never throttled.
	if prev != nil && now.Sub(last) < c.minInterval {
		c.metrics.keyFetch(version, "throttled")
		return prev, nil
	}

	ctx, span := startSpan(ctx, c.tracer, "auth.KeyCache.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("auth.schema_version", string(version)),
		attribute.Bool("auth.forced", force),
	)

	keys, err := c.fetch(ctx, url)

	c.mu.Lock()
	c.lastAttempt[version] = now
	if err == nil {
		c.sets[version] = &KeySet{Version: version, Keys: keys, FetchedAt: now, TTL: c.ttl}
	}
	set := c.sets[version]
	c.mu.Unlock()

	if err == nil {
		c.metrics.keyFetch(version, "success")
		span.SetAttributes(attribute.Int("auth.key_count", len(keys)))
		c.logger.DebugContext(ctx, "auth: signing keys fetched",
			"version", version, "keys", len(keys), "forced", force)
		return set, nil
	}

	finishSpan(span, err)
	if set != nil {
		c.metrics.keyFetch(version, "stale")
		c.logger.WarnContext(ctx, "auth: signing key fetch failed, serving cached keys",
			"version", version, "error", err, "age", now.Sub(set.FetchedAt))
		return set, nil
	}

	c.metrics.keyFetch(version, "failed")
	c.logger.ErrorContext(ctx, "auth: signing key fetch failed with no cached keys",
		"version", version, "url", url, "error", err)
	return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
}

func (c *KeyCache) fetch(ctx context.Context, url string) ([]SigningKey, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}
	return decodeKeySet(body)
}
