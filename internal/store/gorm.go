// gorm.go -- GORM-backed merchant store (Postgres or SQLite).
//
// Alternative to PostgresStore for deployments that prefer GORM's schema
// management, and for local dev on a SQLite file.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore persists merchants through GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore opens dsn with the named dialect ("postgres" or "sqlite"),
// migrates the merchants table and returns a ready store.
func OpenGormStore(dialect, dsn string) (*GormStore, error) {
	var dial gorm.Dialector
	switch dialect {
	case "postgres":
		dial = postgres.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm dialect %q", dialect)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dialect, err)
	}

	s := NewGormStore(db)
	if err := s.AutoMigrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewGormStore wraps an already-open *gorm.DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the merchants table.
func (s *GormStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Merchant{}); err != nil {
		return fmt.Errorf("migrating merchants: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CheckHealth pings the database.
func (s *GormStore) CheckHealth(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertMerchant inserts m, or updates the existing row with the same subdomain.
// Runs find-then-write in one transaction; if a concurrent install wins the insert,
// the unique index rejects ours and the write is retried once as an update.
// created is true only when a new row was inserted.
func (s *GormStore) UpsertMerchant(ctx context.Context, m *Merchant) (created bool, err error) {
	if m.Platform == "" {
		m.Platform = PlatformShopify
	}

	for attempt := 0; attempt < 2; attempt++ {
		created, err = s.upsertOnce(ctx, m)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("upserting merchant %s: %w", m.Subdomain, err)
	}
	return created, nil
}

func (s *GormStore) upsertOnce(ctx context.Context, m *Merchant) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Merchant
		err := tx.Where("subdomain = ?", m.Subdomain).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if m.ID == uuid.Nil {
				id, err := uuid.NewV7()
				if err != nil {
					return fmt.Errorf("generating merchant id: %w", err)
				}
				m.ID = id
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			created = true
			return nil
		case err != nil:
			return err
		}

		// Map form so empty strings are written too.
		now := time.Now()
		if err := tx.Model(&existing).Updates(map[string]any{
			"username":     m.Username,
			"store_name":   m.StoreName,
			"store_url":    m.StoreURL,
			"access_token": m.AccessToken,
			"scope":        m.Scope,
			"platform":     m.Platform,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.UpdatedAt = now
		return nil
	})
	return created, err
}

// GetMerchantBySubdomain fetches a merchant by its myshopify.com domain.
// Returns ErrNotFound if no row matches.
func (s *GormStore) GetMerchantBySubdomain(ctx context.Context, subdomain string) (*Merchant, error) {
	var m Merchant
	err := s.db.WithContext(ctx).Where("subdomain = ?", subdomain).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching merchant %s: %w", subdomain, err)
	}
	return &m, nil
}
