package auth

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ErrRecordNotFound is returned by [RefreshStore.Get] when no record is
// stored for a subject.
var ErrRecordNotFound = sserr.New(sserr.CodeNotFound, "auth: refresh record not found")

// RefreshRecord associates a subject with its latest refresh token. It is
// written only by the [RefreshManager] after a successful exchange.
type RefreshRecord struct {
	Subject      string
	RefreshToken Secret
	IssuedAt     time.Time
	ExchangeID   string
}

// RefreshStore persists refresh records by subject. A ttl of zero keeps a
// record until it is overwritten. Implementations are safe for concurrent
// use; concurrent writes for one subject are last-writer-wins.
type RefreshStore interface {
	Get(ctx context.Context, subject string) (*RefreshRecord, error)
	Set(ctx context.Context, subject string, rec RefreshRecord, ttl time.Duration) error
}

// MemoryRefreshStore keeps records in process memory. Records do not
// survive a restart and are not shared between instances; use
// [RedisRefreshStore] or [PostgresRefreshStore] for that.
type MemoryRefreshStore struct {
	cache *gocache.Cache
}

var _ RefreshStore = (*MemoryRefreshStore)(nil)

// NewMemoryRefreshStore returns an empty store. Expired records are
// purged every ten minutes.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{cache: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

// Get implements [RefreshStore].
func (s *MemoryRefreshStore) Get(_ context.Context, subject string) (*RefreshRecord, error) {
	v, ok := s.cache.Get(subject)
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec := v.(RefreshRecord)
	return &rec, nil
}

// Set implements [RefreshStore].
func (s *MemoryRefreshStore) Set(_ context.Context, subject string, rec RefreshRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.cache.Set(subject, rec, ttl)
	return nil
}
