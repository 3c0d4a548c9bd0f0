package auth

import (
	"context"
	"errors"
	"log/slog"
)

// errMissingKeyID is returned by [KeyMatcher.Resolve] for a header
// without a "kid".
var errMissingKeyID = errors.New("auth: token header has no kid")

// KeySource supplies key sets per schema version. [*KeyCache] is the
// production implementation.
type KeySource interface {
	Keys(ctx context.Context, version SchemaVersion) (*KeySet, error)
	Refresh(ctx context.Context, version SchemaVersion) (*KeySet, error)
}

var _ KeySource = (*KeyCache)(nil)

// KeyMatcher resolves the signing key a token names.
type KeyMatcher struct {
	source KeySource
	logger *slog.Logger
}

// NewKeyMatcher returns a matcher over source. It honors [WithLogger].
func NewKeyMatcher(source KeySource, opts ...Option) *KeyMatcher {
	o := buildOptions(opts)
	return &KeyMatcher{source: source, logger: o.logger}
}

// Resolve returns the key whose kid matches the header's "kid".
//
// A header without a kid fails immediately without touching the source.
// A kid missing from the cached set causes exactly one forced refresh
// and a second scan. A kid that is still unknown yields (nil, nil): that
// is routine during key rotation, not a fault. Errors come only from the
// source, i.e. [ErrKeyFetch].
func (m *KeyMatcher) Resolve(ctx context.Context, header map[string]any, version SchemaVersion) (*SigningKey, error) {
	kid, _ := header["kid"].(string)
	if kid == "" {
		return nil, errMissingKeyID
	}

	set, err := m.source.Keys(ctx, version)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}

	m.logger.InfoContext(ctx, "auth: kid not in cached key set, refreshing",
		"kid", kid, "version", version)

	set, err = m.source.Refresh(ctx, version)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}
	return nil, nil
}
