// e2e_test.go
//
// Level 3 integration tests: exercises run() end-to-end with a real store.
// Uses a throwaway SQLite file by default. With the compose stack up, set
// TEST_DATABASE_URL (and optionally TEST_REDIS_URL) to run against Postgres and Redis.
//
//	docker compose -f compose.test.yml up -d
//	TEST_DATABASE_URL=... TEST_REDIS_URL=... go test ./...
//	docker compose -f compose.test.yml down
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pusheagle/storelink/internal/config"
	"github.com/pusheagle/storelink/internal/shopify"
)

// e2eServerURL is the base URL of the running test server.
// Empty if run() failed to start; e2e tests skip in that case.
var e2eServerURL string

// e2eRedis reports whether the server was started with Redis.
var e2eRedis bool

const (
	e2eShop   = "e2e-store.myshopify.com"
	e2eSecret = "e2e-app-secret"
)

func TestMain(m *testing.M) {
	cfg := &config.Config{
		Port:     "0", // OS picks a free port
		LogLevel: slog.LevelWarn,
		Shopify: config.ShopifyConfig{
			APIKey:      "e2e-client",
			APISecret:   e2eSecret,
			Scopes:      []string{"read_products"},
			RedirectURI: "https://app.example.com/callback",
			APIVersion:  shopify.DefaultAPIVersion,
			HTTPTimeout: 2 * time.Second,
		},
		DashboardURL:   "https://dash.example.com/stores",
		StateSecret:    []byte("e2e-state-secret"),
		StateTTL:       10 * time.Minute,
		UsernameFormat: config.UsernameLocalPart,
		// Short windows so a rerun is not locked out by the previous one.
		RateHMACFailMax:     3,
		RateHMACFailWindow:  5 * time.Second,
		RateHMACFailLockout: 5 * time.Second,
	}

	var tmpDir string
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
		cfg.StoreDriver = config.DriverPostgres
	} else {
		var err error
		tmpDir, err = os.MkdirTemp("", "storelink-e2e-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "e2e: temp dir: %v\n", err)
			os.Exit(1)
		}
		cfg.DatabaseURL = filepath.Join(tmpDir, "e2e.db")
		cfg.StoreDriver = config.DriverSQLite
	}
	cfg.RedisURL = os.Getenv("TEST_REDIS_URL")
	e2eRedis = cfg.RedisURL != ""

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	runErr := make(chan error, 1)

	go func() {
		runErr <- run(ctx, cfg, ready)
	}()

	// Wait for server ready or startup failure.
	select {
	case addr := <-ready:
		e2eServerURL = addr
	case err := <-runErr:
		fmt.Fprintf(os.Stderr, "e2e: server failed to start (%v), e2e tests will be skipped\n", err)
	}

	code := m.Run()

	cancel()
	if e2eServerURL != "" {
		// Wait for run() to finish so deferred closes complete before os.Exit.
		<-runErr
	}
	if tmpDir != "" {
		os.RemoveAll(tmpDir)
	}

	os.Exit(code)
}

// skipIfNoE2E skips the test if the e2e server did not start.
func skipIfNoE2E(t *testing.T) {
	t.Helper()
	if e2eServerURL == "" {
		t.Skip("e2e: server not running")
	}
}

// --- E2E helpers ---

// e2eLogin starts an install for e2eShop and returns the state cookie value.
func e2eLogin(t *testing.T) string {
	t.Helper()
	resp, err := noRedirectClient().Get(e2eServerURL + "/login?shop=" + e2eShop)
	if err != nil {
		t.Fatalf("GET /login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", resp.StatusCode)
	}
	c := stateCookie(resp)
	if c == nil || c.Value == "" {
		t.Fatal("e2eLogin: no state cookie in response")
	}
	return c.Value
}

// e2eForgedCallback sends a callback with a valid state but a bad signature.
// Caller must close the returned response body.
func e2eForgedCallback(t *testing.T, state string) *http.Response {
	t.Helper()
	q := url.Values{
		"code":      {"forged"},
		"shop":      {e2eShop},
		"state":     {state},
		"timestamp": {"1772366400"},
	}
	q.Set("hmac", shopify.SignQuery(q, "attacker-secret"))
	req, err := http.NewRequest(http.MethodGet, e2eServerURL+"/callback?"+q.Encode(), nil)
	if err != nil {
		t.Fatalf("building callback request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: "shopify_oauth_state", Value: state})
	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	return resp
}

// --- E2E tests ---

// TestE2E_Health verifies /health returns per-dependency status against the real server.
func TestE2E_Health(t *testing.T) {
	skipIfNoE2E(t)

	resp, err := http.Get(e2eServerURL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Store string `json:"store"`
		Redis string `json:"redis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Store != "ok" {
		t.Errorf(`body.store: expected "ok", got %q`, body.Store)
	}
	wantRedis := "disabled"
	if e2eRedis {
		wantRedis = "ok"
	}
	if body.Redis != wantRedis {
		t.Errorf(`body.redis: expected %q, got %q`, wantRedis, body.Redis)
	}
}

// TestE2E_Login verifies /login issues a state cookie against the real server.
func TestE2E_Login(t *testing.T) {
	skipIfNoE2E(t)
	e2eLogin(t)
}

// TestE2E_Metrics verifies the real registry serves install counters alongside runtime metrics.
func TestE2E_Metrics(t *testing.T) {
	skipIfNoE2E(t)
	e2eLogin(t)

	resp, err := http.Get(e2eServerURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
}

// TestE2E_ForgedCallback verifies a forged signature is refused before any Shopify call.
// With Redis, repeated failures from one source end in a lockout.
func TestE2E_ForgedCallback(t *testing.T) {
	skipIfNoE2E(t)

	state := e2eLogin(t)
	resp := e2eForgedCallback(t, state)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged callback: expected 401, got %d", resp.StatusCode)
	}

	if !e2eRedis {
		return
	}

	// Two more failures reach the limit of 3; the next request is locked out.
	for i := 0; i < 2; i++ {
		r := e2eForgedCallback(t, e2eLogin(t))
		r.Body.Close()
	}
	locked := e2eForgedCallback(t, e2eLogin(t))
	defer locked.Body.Close()
	if locked.StatusCode != http.StatusTooManyRequests {
		t.Errorf("after lockout: expected 429, got %d", locked.StatusCode)
	}
}
