// handler.go -- AuthHandler dependencies and the interfaces it consumes.
package auth

import (
	"context"
	"time"

	"github.com/pusheagle/storelink/internal/mail"
	"github.com/pusheagle/storelink/internal/shopify"
	"github.com/pusheagle/storelink/internal/store"
)

// MerchantStore persists connected shops.
// Satisfied by *store.PostgresStore and *store.GormStore -- defined here (at consumer) per Go convention.
type MerchantStore interface {
	// UpsertMerchant inserts or updates the row keyed on m.Subdomain.
	// Returns created=true only for a first-time insert.
	UpsertMerchant(ctx context.Context, m *store.Merchant) (created bool, err error)

	// CheckHealth pings the backing database.
	CheckHealth(ctx context.Context) error
}

// ShopifyClient performs the two outbound calls of the callback.
// Satisfied by *shopify.Client.
type ShopifyClient interface {
	// ExchangeCode trades the single-use authorization code for an access token.
	ExchangeCode(ctx context.Context, shop, code string) (*shopify.AccessCredential, error)

	// FetchShop reads the shop profile with a freshly issued token.
	FetchShop(ctx context.Context, shop, accessToken string) (*shopify.ShopProfile, error)
}

// RateLimiter tracks signature failures per source.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	// Allow records an attempt; returns store.ErrRateLimitExceeded once locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error

	// Locked reports whether key is locked out without recording an attempt.
	Locked(ctx context.Context, key string) (bool, error)

	// CheckHealth pings the backing cache; store.ErrCacheDisabled when not configured.
	CheckHealth(ctx context.Context) error
}

// NonceLedger records state nonces that have completed a callback.
// Satisfied by *store.RedisNonceLedger.
type NonceLedger interface {
	// Claim marks nonce used for ttl. Returns false if it was already claimed.
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// TokenSealer encrypts access tokens before they reach the store.
// Satisfied by *security.TokenCipher.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
}

// Settings is the per-app configuration the handlers read. Built once in main from config.Config.
type Settings struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURI  string
	DashboardURL string

	PerUserGrant    bool
	VerifyLoginHMAC bool

	StateSecret []byte
	StateTTL    time.Duration

	UsernameFormat string // config.UsernameLocalPart or config.UsernameFullEmail

	// HMACFailPolicy limits repeated signature failures per source IP.
	HMACFailPolicy store.RateLimit
}

// AuthHandler holds dependencies for the install flow handlers and /health.
type AuthHandler struct {
	Settings Settings

	PS MerchantStore
	SC ShopifyClient
	RL RateLimiter
	ML mail.Mailer

	// Sealer is nil when tokens are stored as received.
	Sealer TokenSealer

	// Nonces is nil without Redis; state tokens are then single use only via the cookie.
	Nonces NonceLedger

	// Metrics is optional; a nil *Metrics records nothing.
	Metrics *Metrics

	// Now overrides the clock for state token issue/expiry. Nil uses time.Now.
	Now func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
