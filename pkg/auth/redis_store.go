package auth

import (
	"context"
	"encoding/json"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// redisKeyPrefix namespaces refresh records in a shared Redis.
const redisKeyPrefix = "authgate:refresh:"

// KV is the key-value surface [RedisRefreshStore] needs. It is satisfied
// by *redis.Client from pkg/clients/redis.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisRefreshStore keeps refresh records in Redis so that every gate
// instance sees the latest token for a subject.
type RedisRefreshStore struct {
	kv KV
}

var _ RefreshStore = (*RedisRefreshStore)(nil)

// NewRedisRefreshStore returns a store backed by kv.
func NewRedisRefreshStore(kv KV) *RedisRefreshStore {
	return &RedisRefreshStore{kv: kv}
}

// storedRecord is the wire form of a [RefreshRecord]. The refresh token is
// held as a plain string because [Secret] redacts itself when marshaled.
type storedRecord struct {
	Subject      string    `json:"subject"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExchangeID   string    `json:"exchange_id,omitempty"`
}

func toStored(rec RefreshRecord) storedRecord {
	return storedRecord{
		Subject:      rec.Subject,
		RefreshToken: rec.RefreshToken.Value(),
		IssuedAt:     rec.IssuedAt,
		ExchangeID:   rec.ExchangeID,
	}
}

func (s storedRecord) record() *RefreshRecord {
	return &RefreshRecord{
		Subject:      s.Subject,
		RefreshToken: Secret(s.RefreshToken),
		IssuedAt:     s.IssuedAt,
		ExchangeID:   s.ExchangeID,
	}
}

// Get implements [RefreshStore].
func (s *RedisRefreshStore) Get(ctx context.Context, subject string) (*RefreshRecord, error) {
	raw, err := s.kv.Get(ctx, redisKeyPrefix+subject)
	if err != nil {
		if sserr.IsNotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	var sr storedRecord
	if err := json.Unmarshal([]byte(raw), &sr); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "auth: corrupt refresh record")
	}
	return sr.record(), nil
}

// Set implements [RefreshStore]. A ttl of zero stores without expiry.
func (s *RedisRefreshStore) Set(ctx context.Context, subject string, rec RefreshRecord, ttl time.Duration) error {
	data, err := json.Marshal(toStored(rec))
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "auth: failed to encode refresh record")
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.kv.Set(ctx, redisKeyPrefix+subject, string(data), ttl)
}
