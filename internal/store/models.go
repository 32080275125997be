// models.go -- Shared domain types for the store package.
// Used by the pgx store, the GORM store and the Redis rate limiter.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// PlatformShopify is the platform value written for every Shopify install.
const PlatformShopify = "shopify"

// ErrNotFound is returned by lookups when no merchant matches.
// Both store backends map their driver-specific miss to this.
var ErrNotFound = errors.New("merchant not found")

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheDisabled is returned by NoopRateLimiter.CheckHealth when Redis is not configured.
// Callers use errors.Is to distinguish "not configured" from a real infrastructure failure.
var ErrCacheDisabled = errors.New("cache disabled")

// Merchant represents a row in the merchants table: one connected shop.
// Subdomain is unique; every install for the same shop updates the same row.
// AccessToken holds either the raw token or a sealed envelope, depending on config.
type Merchant struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username    string    `gorm:"not null;default:''"`
	StoreName   string    `gorm:"not null;default:''"`
	StoreURL    string    `gorm:"column:store_url;not null;default:''"`
	Subdomain   string    `gorm:"not null;uniqueIndex:merchants_subdomain_key"`
	AccessToken string    `gorm:"not null"`
	Scope       string    `gorm:"not null;default:''"`
	Platform    string    `gorm:"not null;default:shopify"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the GORM table to the one the SQL migrations create.
func (Merchant) TableName() string { return "merchants" }

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
