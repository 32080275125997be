// config.go

// Environment variable loading and validation.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres" // pgx pool + embedded SQL migrations
	DriverGorm     = "gorm"     // GORM over Postgres
	DriverSQLite   = "sqlite"   // GORM over a SQLite file, local dev only
)

// Username formats accepted by USERNAME_FORMAT.
const (
	UsernameLocalPart = "local"
	UsernameFullEmail = "email"
)

// ShopifyConfig holds the app credentials and OAuth options for the Shopify platform.
type ShopifyConfig struct {
	APIKey      string
	APISecret   string
	Scopes      []string
	RedirectURI string // externally reachable /callback address
	APIVersion  string // Admin API version used for the GraphQL profile call
	HTTPTimeout time.Duration

	// PerUserGrant appends grant_options[]=per-user to the authorize URL.
	PerUserGrant bool

	// VerifyLoginHMAC requires a valid Shopify signature on /login itself.
	VerifyLoginHMAC bool
}

// SMTPConfig holds outbound mail settings. Empty Host disables sending.
type SMTPConfig struct {
	Host        string
	Port        string // defaults to 587
	Username    string
	Password    string
	FromAddress string
}

// Config holds all env configuration vars for storelink.
// Built once at startup and passed down explicitly.
type Config struct {
	Port        string
	LogLevel    slog.Level
	DatabaseURL string
	StoreDriver string
	RedisURL    string // empty disables rate limiting and the mail queue

	// TrustedProxies lists peers whose X-Forwarded-For/X-Real-IP headers are honoured.
	// Empty means the TCP peer address is always the client address.
	TrustedProxies []netip.Prefix

	Shopify ShopifyConfig
	SMTP    SMTPConfig

	// DashboardURL is where the browser lands after a successful install.
	DashboardURL string

	// StateSecret signs the OAuth state token. Defaults to the Shopify API secret.
	StateSecret []byte
	StateTTL    time.Duration

	UsernameFormat string

	// TokenEncryptionKey seals access tokens at rest. Nil stores them as received.
	TokenEncryptionKey []byte

	// Rate limit policy for HMAC failures per source IP.
	// Defaults: max=5, window=10m, lockout=15m.
	RateHMACFailMax     int
	RateHMACFailWindow  time.Duration
	RateHMACFailLockout time.Duration
}

// LoadConfig reads environment variables (and .env if present) and returns a validated Config.
// Returns an error naming the first missing or malformed required variable.
func LoadConfig() (*Config, error) {
	// Local dev convenience; real env vars always win.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	switch cfg.StoreDriver {
	case "":
		cfg.StoreDriver = DriverPostgres
	case DriverPostgres, DriverGorm, DriverSQLite:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be one of %q, %q, %q", DriverPostgres, DriverGorm, DriverSQLite)
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	proxies, err := parseProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	// Shopify app credentials -- all required, a half-configured app fails at startup.
	cfg.Shopify.APIKey = os.Getenv("SHOPIFY_API_KEY")
	if cfg.Shopify.APIKey == "" {
		return nil, fmt.Errorf("SHOPIFY_API_KEY is required")
	}
	cfg.Shopify.APISecret = os.Getenv("SHOPIFY_API_SECRET")
	if cfg.Shopify.APISecret == "" {
		return nil, fmt.Errorf("SHOPIFY_API_SECRET is required")
	}
	cfg.Shopify.Scopes = splitList(os.Getenv("SHOPIFY_SCOPES"))
	if len(cfg.Shopify.Scopes) == 0 {
		return nil, fmt.Errorf("SHOPIFY_SCOPES is required")
	}
	cfg.Shopify.RedirectURI = os.Getenv("SHOPIFY_REDIRECT_URI")
	if err := requireHTTPURL("SHOPIFY_REDIRECT_URI", cfg.Shopify.RedirectURI); err != nil {
		return nil, err
	}
	cfg.Shopify.APIVersion = os.Getenv("SHOPIFY_API_VERSION")
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2025-07"
	}
	cfg.Shopify.HTTPTimeout = envDuration("SHOPIFY_HTTP_TIMEOUT", 10*time.Second)
	cfg.Shopify.PerUserGrant = os.Getenv("SHOPIFY_PER_USER_GRANT") == "true"
	cfg.Shopify.VerifyLoginHMAC = os.Getenv("SHOPIFY_VERIFY_LOGIN_HMAC") == "true"

	cfg.DashboardURL = os.Getenv("DASHBOARD_URL")
	if err := requireHTTPURL("DASHBOARD_URL", cfg.DashboardURL); err != nil {
		return nil, err
	}

	cfg.StateSecret = []byte(os.Getenv("OAUTH_STATE_SECRET"))
	if len(cfg.StateSecret) == 0 {
		cfg.StateSecret = []byte(cfg.Shopify.APISecret)
	}
	cfg.StateTTL = envDuration("OAUTH_STATE_TTL", 10*time.Minute)
	// Cookie Max-Age is whole seconds; anything shorter would become a session cookie.
	if cfg.StateTTL < time.Second {
		slog.Warn("OAUTH_STATE_TTL below 1s, using 1s", "value", cfg.StateTTL)
		cfg.StateTTL = time.Second
	}

	cfg.UsernameFormat = strings.ToLower(os.Getenv("USERNAME_FORMAT"))
	switch cfg.UsernameFormat {
	case "":
		cfg.UsernameFormat = UsernameLocalPart
	case UsernameLocalPart, UsernameFullEmail:
	default:
		return nil, fmt.Errorf("USERNAME_FORMAT must be %q or %q", UsernameLocalPart, UsernameFullEmail)
	}

	if raw := os.Getenv("TOKEN_ENCRYPTION_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 64 hex characters")
		}
		cfg.TokenEncryptionKey = key
	}

	// Fall back to defaults on bad values so a typo can't silently disable the limiter.
	cfg.RateHMACFailMax = envInt("RATE_HMAC_FAIL_MAX", 5)
	cfg.RateHMACFailWindow = envDuration("RATE_HMAC_FAIL_WINDOW", 10*time.Minute)
	cfg.RateHMACFailLockout = envDuration("RATE_HMAC_FAIL_LOCKOUT", 15*time.Minute)

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = os.Getenv("SMTP_PORT")
	if cfg.SMTP.Port == "" {
		cfg.SMTP.Port = "587"
	}
	cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.FromAddress = os.Getenv("SMTP_FROM")
	if cfg.SMTP.Host != "" && cfg.SMTP.FromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM must be set when SMTP_HOST is set")
	}

	return cfg, nil
}

// requireHTTPURL errors unless v is an absolute http(s) URL.
func requireHTTPURL(key, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", key)
	}
	return nil
}

// parseProxies reads a comma-separated list of CIDRs or bare IPs.
func parseProxies(v string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range splitList(v) {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid CIDR %q", entry)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", entry)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// splitList splits a comma-separated list, trimming blanks and dropping empties.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
