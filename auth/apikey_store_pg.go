package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAPIKeyStore persists API keys in Postgres.
type PGAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGAPIKeyStore wraps an existing pool and initializes the schema.
func NewPGAPIKeyStore(ctx context.Context, dsn string) (*PGAPIKeyStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGAPIKeyStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGAPIKeyStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS lw_api_keys (
  key TEXT PRIMARY KEY,
  wallet_address TEXT NOT NULL,
  source TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_lw_api_keys_wallet ON lw_api_keys(lower(wallet_address));
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Validate returns true if the key exists.
func (s *PGAPIKeyStore) Validate(key string) bool {
	if key == "" {
		return false
	}
	var exists bool
	err := s.pool.QueryRow(context.Background(),
		"SELECT true FROM lw_api_keys WHERE key=$1", key).Scan(&exists)
	return err == nil && exists
}

// Get returns the record for the provided key.
func (s *PGAPIKeyStore) Get(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	rec := APIKey{Key: key}
	var source sql.NullString
	err := s.pool.QueryRow(context.Background(),
		"SELECT wallet_address, source, created_at FROM lw_api_keys WHERE key=$1",
		key).Scan(&rec.Wallet, &source, &rec.CreatedAt)
	if err != nil {
		return APIKey{}, false
	}
	if source.Valid {
		rec.Source = source.String
	}
	return rec, true
}

// Issue creates and stores a new API key bound to a wallet.
func (s *PGAPIKeyStore) Issue(wallet, source string) (APIKey, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return APIKey{}, fmt.Errorf("wallet address required")
	}
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Key: key, Wallet: wallet, Source: source, CreatedAt: time.Now()}
	_, err = s.pool.Exec(context.Background(),
		"INSERT INTO lw_api_keys (key, wallet_address, source, created_at) VALUES ($1,$2,$3,$4)",
		rec.Key, rec.Wallet, rec.Source, rec.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return rec, nil
}

// Seed inserts a provided key if not already present.
func (s *PGAPIKeyStore) Seed(key, source string) {
	if key == "" {
		return
	}
	_, _ = s.pool.Exec(context.Background(),
		"INSERT INTO lw_api_keys (key, wallet_address, source, created_at) VALUES ($1,'',$2,$3) ON CONFLICT DO NOTHING",
		key, source, time.Now())
}
