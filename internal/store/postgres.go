// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and merchant queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists merchants through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and pings it before returning.
// Call once at startup from main.go; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertMerchant inserts m, or updates the existing row with the same subdomain.
// A single statement, so concurrent installs for one shop never produce two rows.
// On return m.ID, CreatedAt and UpdatedAt reflect the stored row.
// created is true only when a new row was inserted.
func (s *PostgresStore) UpsertMerchant(ctx context.Context, m *Merchant) (created bool, err error) {
	if m.ID == uuid.Nil {
		if m.ID, err = uuid.NewV7(); err != nil {
			return false, fmt.Errorf("generating merchant id: %w", err)
		}
	}
	if m.Platform == "" {
		m.Platform = PlatformShopify
	}

	// xmax is 0 only for a row this statement freshly inserted.
	err = s.pool.QueryRow(ctx, `
		INSERT INTO merchants (id, username, store_name, store_url, subdomain, access_token, scope, platform)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subdomain) DO UPDATE SET
			username     = EXCLUDED.username,
			store_name   = EXCLUDED.store_name,
			store_url    = EXCLUDED.store_url,
			access_token = EXCLUDED.access_token,
			scope        = EXCLUDED.scope,
			platform     = EXCLUDED.platform,
			updated_at   = now()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		m.ID, m.Username, m.StoreName, m.StoreURL, m.Subdomain, m.AccessToken, m.Scope, m.Platform,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upserting merchant %s: %w", m.Subdomain, err)
	}
	return created, nil
}

// GetMerchantBySubdomain fetches a merchant by its myshopify.com domain.
// Returns ErrNotFound if no row matches.
func (s *PostgresStore) GetMerchantBySubdomain(ctx context.Context, subdomain string) (*Merchant, error) {
	var m Merchant
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, store_name, store_url, subdomain, access_token, scope, platform, created_at, updated_at
		FROM merchants WHERE subdomain = $1`,
		subdomain,
	).Scan(&m.ID, &m.Username, &m.StoreName, &m.StoreURL, &m.Subdomain, &m.AccessToken, &m.Scope, &m.Platform, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching merchant %s: %w", subdomain, err)
	}
	return &m, nil
}
