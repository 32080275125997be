package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pusheagle/storelink/internal/auth"
	"github.com/pusheagle/storelink/internal/config"
	"github.com/pusheagle/storelink/internal/mail"
	"github.com/pusheagle/storelink/internal/security"
	"github.com/pusheagle/storelink/internal/shopify"
	"github.com/pusheagle/storelink/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (store, redis) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// merchantStore is what run needs from either store implementation.
type merchantStore interface {
	auth.MerchantStore
	Close() error
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	// Close at end of run func
	defer ps.Close()

	// Redis is optional; without it signature failures are not rate limited,
	// state nonces are not recorded and mail is sent inline.
	var rl auth.RateLimiter = store.NoopRateLimiter{}
	var nonces auth.NonceLedger
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rl = store.NewRedisRateLimiter(rdb)
		nonces = store.NewRedisNonceLedger(rdb)
	} else {
		slog.Warn("REDIS_URL not set, hmac failure rate limiting and state replay ledger disabled")
	}

	// Worker ctx outlives in-flight requests during shutdown; cancelled when run() returns.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	ml := buildMailer(workerCtx, cfg, rdb)

	var sealer auth.TokenSealer
	if cfg.TokenEncryptionKey != nil {
		c, err := security.NewTokenCipher(cfg.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to set up token cipher: %w", err)
		}
		sealer = c
	} else {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, access tokens stored unencrypted")
	}

	// Private registry so /metrics only carries what this process registers.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := auth.AuthHandler{
		Settings: auth.Settings{
			ClientID:        cfg.Shopify.APIKey,
			ClientSecret:    cfg.Shopify.APISecret,
			Scopes:          cfg.Shopify.Scopes,
			RedirectURI:     cfg.Shopify.RedirectURI,
			DashboardURL:    cfg.DashboardURL,
			PerUserGrant:    cfg.Shopify.PerUserGrant,
			VerifyLoginHMAC: cfg.Shopify.VerifyLoginHMAC,
			StateSecret:     cfg.StateSecret,
			StateTTL:        cfg.StateTTL,
			UsernameFormat:  cfg.UsernameFormat,
			HMACFailPolicy: store.RateLimit{
				MaxAttempts: cfg.RateHMACFailMax,
				Window:      cfg.RateHMACFailWindow,
				LockoutTTL:  cfg.RateHMACFailLockout,
			},
		},
		PS: ps,
		SC: shopify.NewClient(shopify.ClientConfig{
			ClientID:     cfg.Shopify.APIKey,
			ClientSecret: cfg.Shopify.APISecret,
			APIVersion:   cfg.Shopify.APIVersion,
			Timeout:      cfg.Shopify.HTTPTimeout,
		}),
		RL:      rl,
		ML:      ml,
		Sealer:  sealer,
		Nonces:  nonces,
		Metrics: auth.NewMetrics(reg),
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(&h, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.TrustedProxies),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("storelink listening", "addr", ln.Addr().String(), "store_driver", cfg.StoreDriver)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting, waits for in-flight callbacks to finish their upsert.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// openStore opens the merchant store selected by STORE_DRIVER.
// The pgx driver applies the embedded SQL migrations; GORM drivers auto-migrate.
func openStore(ctx context.Context, cfg *config.Config) (merchantStore, error) {
	switch cfg.StoreDriver {
	case config.DriverGorm:
		gs, err := store.OpenGormStore("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up gorm store: %w", err)
		}
		return gs, nil
	case config.DriverSQLite:
		gs, err := store.OpenGormStore("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up sqlite store: %w", err)
		}
		return gs, nil
	}

	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to set up postgres store: %w", err)
	}
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return ps, nil
}

// buildMailer returns the store-connected mailer. SMTP unset -> NopMailer.
// With Redis available sends go through the queue and a worker drains it until ctx ends.
func buildMailer(ctx context.Context, cfg *config.Config, rdb *redis.Client) mail.Mailer {
	if cfg.SMTP.Host == "" {
		slog.Info("SMTP_HOST not set, store connected emails disabled")
		return mail.NopMailer{}
	}
	smtpMailer := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:         cfg.SMTP.Host,
		Port:         cfg.SMTP.Port,
		Username:     cfg.SMTP.Username,
		Password:     cfg.SMTP.Password,
		FromAddress:  cfg.SMTP.FromAddress,
		DashboardURL: cfg.DashboardURL,
	})
	if rdb == nil {
		return smtpMailer
	}
	qm := mail.NewQueuedMailer(smtpMailer, rdb, mail.DefaultMaxQueueSize)
	go qm.StartWorker(ctx)
	return qm
}

// buildRouter wires all routes and middleware.
// Called from run() and the smoke tests.
// Forwarding headers are honoured only from trustedProxies.
func buildRouter(h *auth.AuthHandler, metrics http.Handler, trustedProxies []netip.Prefix) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(auth.TrustedRealIP(trustedProxies))
	r.Use(middleware.Logger)
	r.Use(auth.RecoverJSON)
	r.Use(middleware.Timeout(30 * time.Second))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { auth.NotFound(w) })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { auth.MethodNotAllowed(w) })

	r.Get("/health", h.CheckHealth)
	r.Method(http.MethodGet, "/metrics", metrics)

	// Install flow
	r.Get("/login", h.Login)
	r.Get("/callback", h.Callback)

	return r
}
