package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// SQL is the query surface [PostgresRefreshStore] needs. It is satisfied
// by *postgres.Client from pkg/clients/postgres.
type SQL interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	createRefreshTableSQL = `CREATE TABLE IF NOT EXISTS refresh_records (
	subject       TEXT PRIMARY KEY,
	refresh_token TEXT NOT NULL,
	issued_at     TIMESTAMPTZ NOT NULL,
	exchange_id   TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ
)`

	selectRefreshSQL = `SELECT subject, refresh_token, issued_at, exchange_id FROM refresh_records
WHERE subject = $1 AND (expires_at IS NULL OR expires_at > $2)`

	upsertRefreshSQL = `INSERT INTO refresh_records (subject, refresh_token, issued_at, exchange_id, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subject) DO UPDATE SET
	refresh_token = EXCLUDED.refresh_token,
	issued_at = EXCLUDED.issued_at,
	exchange_id = EXCLUDED.exchange_id,
	expires_at = EXCLUDED.expires_at`

	purgeRefreshSQL = `DELETE FROM refresh_records WHERE expires_at IS NOT NULL AND expires_at <= $1`
)

// PostgresRefreshStore keeps refresh records in a refresh_records table.
// Expired rows are hidden from Get and removed by [PostgresRefreshStore.PurgeExpired].
type PostgresRefreshStore struct {
	db    SQL
	clock Clock
}

var _ RefreshStore = (*PostgresRefreshStore)(nil)

// NewPostgresRefreshStore returns a store backed by db. Only [WithClock]
// applies.
func NewPostgresRefreshStore(db SQL, opts ...Option) *PostgresRefreshStore {
	o := buildOptions(opts)
	return &PostgresRefreshStore{db: db, clock: o.clock}
}

// EnsureSchema creates the refresh_records table if it does not exist.
func (s *PostgresRefreshStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createRefreshTableSQL)
	return err
}

// Get implements [RefreshStore].
func (s *PostgresRefreshStore) Get(ctx context.Context, subject string) (*RefreshRecord, error) {
	var sr storedRecord
	err := s.db.QueryRow(ctx, selectRefreshSQL, subject, s.clock.Now()).
		Scan(&sr.Subject, &sr.RefreshToken, &sr.IssuedAt, &sr.ExchangeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "auth: failed to read refresh record")
	}
	return sr.record(), nil
}

// Set implements [RefreshStore]. A ttl of zero stores without expiry.
func (s *PostgresRefreshStore) Set(ctx context.Context, subject string, rec RefreshRecord, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.clock.Now().Add(ttl)
		expiresAt = &t
	}
	sr := toStored(rec)
	_, err := s.db.Exec(ctx, upsertRefreshSQL, subject, sr.RefreshToken, sr.IssuedAt, sr.ExchangeID, expiresAt)
	return err
}

// PurgeExpired deletes expired records and returns how many were removed.
func (s *PostgresRefreshStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeRefreshSQL, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
