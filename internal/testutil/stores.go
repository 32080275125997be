// stores.go
//
// Shared mocks for the auth package's consumer interfaces: merchant store,
// Shopify client, rate limiter, nonce ledger and mailer. Imported by test files across
// packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pusheagle/storelink/internal/shopify"
	"github.com/pusheagle/storelink/internal/store"
)

// MockStore implements auth.MerchantStore.
// Stateful: Merchants is keyed by subdomain, like the real unique index.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	UpsertErr error
	HealthErr error

	Merchants   map[string]*store.Merchant
	UpsertCalls int

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given merchants.
func NewMockStore(merchants ...*store.Merchant) *MockStore {
	ms := &MockStore{Merchants: make(map[string]*store.Merchant)}
	for _, m := range merchants {
		ms.Merchants[m.Subdomain] = m
	}
	return ms
}

func (m *MockStore) UpsertMerchant(_ context.Context, merchant *store.Merchant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return false, m.UpsertErr
	}
	if m.Merchants == nil {
		m.Merchants = make(map[string]*store.Merchant)
	}
	if existing, ok := m.Merchants[merchant.Subdomain]; ok {
		merchant.ID = existing.ID
		cp := *merchant
		m.Merchants[merchant.Subdomain] = &cp
		return false, nil
	}
	if merchant.ID == uuid.Nil {
		merchant.ID = uuid.Must(uuid.NewV7())
	}
	if merchant.Platform == "" {
		merchant.Platform = store.PlatformShopify
	}
	cp := *merchant
	m.Merchants[merchant.Subdomain] = &cp
	return true, nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// Get returns a copy of the stored merchant for subdomain, or nil.
func (m *MockStore) Get(subdomain string) *store.Merchant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm, ok := m.Merchants[subdomain]; ok {
		cp := *mm
		return &cp
	}
	return nil
}

// MockShopify implements auth.ShopifyClient with canned responses.
// Records the arguments of the last call to each method.
type MockShopify struct {
	Credential *shopify.AccessCredential
	Profile    *shopify.ShopProfile

	ExchangeErr error
	FetchErr    error

	ExchangeCalls int
	FetchCalls    int
	LastShop      string
	LastCode      string
	LastToken     string

	mu sync.Mutex
}

func (m *MockShopify) ExchangeCode(_ context.Context, shop, code string) (*shopify.AccessCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExchangeCalls++
	m.LastShop, m.LastCode = shop, code
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	return m.Credential, nil
}

func (m *MockShopify) FetchShop(_ context.Context, shop, accessToken string) (*shopify.ShopProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++
	m.LastShop, m.LastToken = shop, accessToken
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.Profile, nil
}

// MockRateLimiter implements auth.RateLimiter.
// Set IsLocked to simulate a locked-out source; AllowErr to fail recording.
type MockRateLimiter struct {
	IsLocked  bool
	LockedErr error
	AllowErr  error
	HealthErr error

	AllowKeys  []string // keys passed to Allow, in order
	LockedKeys []string // keys passed to Locked, in order

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AllowKeys = append(m.AllowKeys, key)
	return m.AllowErr
}

func (m *MockRateLimiter) Locked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockedKeys = append(m.LockedKeys, key)
	return m.IsLocked, m.LockedErr
}

func (m *MockRateLimiter) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// MockNonceLedger implements auth.NonceLedger in memory.
// Set Err to simulate a ledger outage.
type MockNonceLedger struct {
	Err error

	Claimed map[string]time.Duration // nonce -> ttl of the first claim

	mu sync.Mutex
}

func NewMockNonceLedger() *MockNonceLedger {
	return &MockNonceLedger{Claimed: make(map[string]time.Duration)}
}

func (m *MockNonceLedger) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if _, ok := m.Claimed[nonce]; ok {
		return false, nil
	}
	m.Claimed[nonce] = ttl
	return true, nil
}

// SentMail is one recorded MockMailer call.
type SentMail struct {
	ToEmail string
	Vars    map[string]string
}

// MockMailer implements mail.Mailer and records every send.
type MockMailer struct {
	Err  error
	Sent []SentMail

	mu sync.Mutex
}

func (m *MockMailer) SendStoreConnected(_ context.Context, toEmail string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{ToEmail: toEmail, Vars: vars})
	return m.Err
}
