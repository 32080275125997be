// handler_test.go

// shared fixtures and assertions for the auth package tests.
package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pusheagle/storelink/internal/config"
	"github.com/pusheagle/storelink/internal/shopify"
	"github.com/pusheagle/storelink/internal/store"
	"github.com/pusheagle/storelink/internal/testutil"
)

const (
	testShop         = "acme.myshopify.com"
	testClientSecret = "shpss_test_secret"
	testDashboardURL = "https://dash.example.com/stores"
)

// testNow is the fixed clock every fixture handler runs on.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture bundles a handler with the mocks behind it.
type fixture struct {
	h  *AuthHandler
	ps *testutil.MockStore
	sc *testutil.MockShopify
	rl *testutil.MockRateLimiter
	ml *testutil.MockMailer
}

// newFixture returns a handler wired to fresh mocks and a private metrics registry.
// The Shopify mock answers with an online token for owner@acme.test.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ps: testutil.NewMockStore(),
		sc: &testutil.MockShopify{
			Credential: &shopify.AccessCredential{
				AccessToken: "shpat_abc123",
				Scope:       "read_products,read_orders",
				AssociatedUser: &shopify.AssociatedUser{
					ID:    42,
					Email: "owner@acme.test",
				},
			},
			Profile: &shopify.ShopProfile{
				Name:            "Acme Goods",
				MyshopifyDomain: testShop,
				PrimaryDomain:   shopify.PrimaryDomain{URL: "https://acme.example", Host: "acme.example"},
			},
		},
		rl: &testutil.MockRateLimiter{},
		ml: &testutil.MockMailer{},
	}
	f.h = &AuthHandler{
		Settings: Settings{
			ClientID:       "client-id",
			ClientSecret:   testClientSecret,
			Scopes:         []string{"read_products", "read_orders"},
			RedirectURI:    "https://app.example.com/callback",
			DashboardURL:   testDashboardURL,
			StateSecret:    []byte("state-secret"),
			StateTTL:       10 * time.Minute,
			UsernameFormat: config.UsernameLocalPart,
			HMACFailPolicy: store.RateLimit{MaxAttempts: 5, Window: 10 * time.Minute, LockoutTTL: 15 * time.Minute},
		},
		PS:      f.ps,
		SC:      f.sc,
		RL:      f.rl,
		ML:      f.ml,
		Metrics: NewMetrics(prometheus.NewRegistry()),
		Now:     func() time.Time { return testNow },
	}
	return f
}

// mintState issues a state token for shop on the fixture's clock.
func (f *fixture) mintState(t *testing.T, shop string) string {
	t.Helper()
	state, err := newStateToken(f.h.Settings.StateSecret, shop, f.h.Settings.StateTTL, testNow)
	if err != nil {
		t.Fatalf("newStateToken: %v", err)
	}
	return state
}

// callbackQuery returns a Shopify-signed callback query for shop carrying state.
func callbackQuery(shop, state string) url.Values {
	q := url.Values{
		"code":      {"auth-code-1"},
		"host":      {"YWNtZS5teXNob3BpZnkuY29tL2FkbWlu"},
		"shop":      {shop},
		"state":     {state},
		"timestamp": {"1772366400"},
	}
	q.Set("hmac", shopify.SignQuery(q, testClientSecret))
	return q
}

// callbackRequest builds GET /callback?<q> with the state cookie set to cookie (omitted when empty).
func callbackRequest(q url.Values, cookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil)
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: StateCookieName, Value: cookie})
	}
	return r
}

// validCallback returns a callback request that passes every check for testShop.
func (f *fixture) validCallback(t *testing.T) *http.Request {
	t.Helper()
	state := f.mintState(t, testShop)
	return callbackRequest(callbackQuery(testShop, state), state)
}

// assertError checks the response is a JSON error with the given status and message.
func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: expected %d, got %d", status, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error != message {
		t.Errorf("error: expected %q, got %q", message, body.Error)
	}
}

// assertNoOutboundCalls fails if the handler reached Shopify or the store.
func (f *fixture) assertNoOutboundCalls(t *testing.T) {
	t.Helper()
	if f.sc.ExchangeCalls != 0 || f.sc.FetchCalls != 0 {
		t.Errorf("expected no Shopify calls, got exchange=%d fetch=%d", f.sc.ExchangeCalls, f.sc.FetchCalls)
	}
	if f.ps.UpsertCalls != 0 {
		t.Errorf("expected no upserts, got %d", f.ps.UpsertCalls)
	}
}

// findCookie returns the named cookie set on the response, or nil.
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
