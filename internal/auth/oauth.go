// oauth.go -- Shopify install flow: GET /login and GET /callback.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pusheagle/storelink/internal/config"
	"github.com/pusheagle/storelink/internal/shopify"
	"github.com/pusheagle/storelink/internal/store"
)

// hmacFailPrefix namespaces signature-failure rate limit keys.
const hmacFailPrefix = "oauth_hmac_fail:"

// Login handles GET /login?shop= -- mints a signed state token, sets it as a
// cookie and redirects the browser to the shop's consent page.
// No outbound network call is made.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if h.sourceLocked(r) {
		h.rejectLogin(w, r, newFailure(ReasonRateLimited, nil))
		return
	}

	raw := q.Get("shop")
	if strings.TrimSpace(raw) == "" {
		h.rejectLogin(w, r, missingParameter("shop"))
		return
	}
	shop := shopify.NormalizeShop(raw)
	if !shopify.ValidShopDomain(shop) {
		h.rejectLogin(w, r, newFailure(ReasonInvalidDomain, fmt.Errorf("shop %q", raw)))
		return
	}

	// Shopify signs install links from the admin; hand-typed /login URLs carry no hmac.
	if h.Settings.VerifyLoginHMAC && !shopify.VerifyQuery(q, h.Settings.ClientSecret) {
		h.recordSignatureFailure(r)
		h.rejectLogin(w, r, newFailure(ReasonSignatureMismatch, errors.New("login hmac mismatch")))
		return
	}

	state, err := newStateToken(h.Settings.StateSecret, shop, h.Settings.StateTTL, h.now())
	if err != nil {
		h.rejectLogin(w, r, newFailure(ReasonInternal, err))
		return
	}

	authURL, err := shopify.AuthorizeURL(shop, shopify.AuthorizeParams{
		ClientID:     h.Settings.ClientID,
		Scopes:       h.Settings.Scopes,
		RedirectURI:  h.Settings.RedirectURI,
		State:        state,
		PerUserGrant: h.Settings.PerUserGrant,
	})
	if err != nil {
		h.rejectLogin(w, r, newFailure(ReasonInternal, err))
		return
	}

	setStateCookie(w, state, h.Settings.StateTTL)
	h.Metrics.initiation("redirected")
	logInfo(r, "install started", "shop", shop)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *AuthHandler) rejectLogin(w http.ResponseWriter, r *http.Request, f *Failure) {
	h.Metrics.initiation(string(f.Reason))
	writeFailure(w, r, f)
}

// Callback handles GET /callback -- verifies state, signature and shop, exchanges
// the code, reads the shop profile, upserts the merchant and redirects to the dashboard.
// Each check short-circuits; nothing outbound happens before state, signature and domain pass.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// The state cookie is single use whatever the outcome.
	clearStateCookie(w)

	shop, f := h.completeInstall(r)
	if f != nil {
		h.Metrics.callback(string(f.Reason))
		writeFailure(w, r, f)
		return
	}

	h.Metrics.callback("success")
	http.Redirect(w, r, h.dashboardURL(shop), http.StatusFound)
}

// completeInstall runs the callback state machine and returns the installed shop.
func (h *AuthHandler) completeInstall(r *http.Request) (string, *Failure) {
	ctx := r.Context()
	q := r.URL.Query()
	shop := q.Get("shop")

	// Locked-out sources are turned away before any verification work.
	if h.sourceLocked(r) {
		return "", newFailure(ReasonRateLimited, nil)
	}

	claims, err := h.verifyState(r, q.Get("state"), shop)
	if err != nil {
		return "", newFailure(ReasonInvalidState, err)
	}

	if !shopify.VerifyQuery(q, h.Settings.ClientSecret) {
		h.recordSignatureFailure(r)
		return "", newFailure(ReasonSignatureMismatch, errors.New("callback hmac mismatch"))
	}

	if !shopify.ValidShopDomain(shop) {
		return "", newFailure(ReasonInvalidDomain, fmt.Errorf("shop %q", shop))
	}

	code := q.Get("code")
	if code == "" {
		return "", missingParameter("code")
	}

	if err := h.claimState(r, claims); err != nil {
		return "", newFailure(ReasonInvalidState, err)
	}

	start := time.Now()
	cred, err := h.SC.ExchangeCode(ctx, shop, code)
	h.Metrics.observeShopify(callTokenExchange, start)
	if err != nil {
		return "", newFailure(ReasonTokenExchange, err)
	}

	start = time.Now()
	profile, err := h.SC.FetchShop(ctx, shop, cred.AccessToken)
	h.Metrics.observeShopify(callShopProfile, start)
	if err != nil {
		return "", newFailure(ReasonProfileFetch, err)
	}

	merchant, err := h.buildMerchant(r, shop, cred, profile)
	if err != nil {
		return "", newFailure(ReasonPersistence, err)
	}

	created, err := h.PS.UpsertMerchant(ctx, merchant)
	if err != nil {
		return "", newFailure(ReasonPersistence, err)
	}
	logInfo(r, "store connected", "shop", merchant.Subdomain, "merchant_id", merchant.ID,
		"created", created, "scopes", cred.Scopes())

	if created {
		h.notifyConnected(r, cred, merchant)
	}
	return shop, nil
}

// verifyState checks that the state param and cookie are present and identical,
// and that the token is authentic, unexpired and issued for shop.
func (h *AuthHandler) verifyState(r *http.Request, param, shop string) (*jwt.RegisteredClaims, error) {
	if param == "" {
		return nil, errors.New("missing state parameter")
	}
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return nil, errors.New("missing state cookie")
	}
	if cookie.Value != param {
		return nil, errors.New("state does not match cookie")
	}
	return parseStateToken(h.Settings.StateSecret, param, shop, h.now())
}

// claimState marks the state nonce used until the token expires, so a captured
// state and cookie pair cannot be replayed. No-op without a ledger; ledger errors
// are logged and the callback continues.
func (h *AuthHandler) claimState(r *http.Request, claims *jwt.RegisteredClaims) error {
	if h.Nonces == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(h.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	fresh, err := h.Nonces.Claim(r.Context(), claims.ID, ttl)
	if err != nil {
		logWarn(r, "state nonce ledger failed, continuing", "error", err)
		return nil
	}
	if !fresh {
		logWarn(r, "security: state replayed", "shop", claims.Subject)
		return errStateReplayed
	}
	return nil
}

// sourceLocked reports whether the client's address is locked out after
// repeated signature failures. Lookup errors fail open.
func (h *AuthHandler) sourceLocked(r *http.Request) bool {
	locked, err := h.RL.Locked(r.Context(), hmacFailPrefix+clientIP(r))
	if err != nil {
		logWarn(r, "rate limit lookup failed, continuing", "error", err)
		return false
	}
	return locked
}

// recordSignatureFailure logs a signature mismatch as a security event and counts
// it against the source IP. Limiter errors are logged, never surfaced.
func (h *AuthHandler) recordSignatureFailure(r *http.Request) {
	ip := clientIP(r)
	logWarn(r, "security: hmac signature mismatch", "shop", r.URL.Query().Get("shop"))

	err := h.RL.Allow(r.Context(), hmacFailPrefix+ip, h.Settings.HMACFailPolicy)
	switch {
	case errors.Is(err, store.ErrRateLimitExceeded):
		logWarn(r, "security: source locked out after repeated hmac failures")
	case err != nil:
		logWarn(r, "rate limit record failed", "error", err)
	}
}

// buildMerchant maps the token and profile onto a merchant row, sealing the token when configured.
func (h *AuthHandler) buildMerchant(r *http.Request, shop string, cred *shopify.AccessCredential, profile *shopify.ShopProfile) (*store.Merchant, error) {
	subdomain := strings.ToLower(profile.MyshopifyDomain)
	if !shopify.ValidShopDomain(subdomain) {
		subdomain = shop
	}
	if !strings.EqualFold(subdomain, shop) {
		logWarn(r, "profile domain differs from callback shop, keeping callback shop",
			"shop", shop, "myshopify_domain", profile.MyshopifyDomain)
		subdomain = shop
	}

	token := cred.AccessToken
	if h.Sealer != nil {
		sealed, err := h.Sealer.Seal(token)
		if err != nil {
			return nil, fmt.Errorf("sealing access token: %w", err)
		}
		token = sealed
	}

	return &store.Merchant{
		Username:    h.username(cred),
		StoreName:   profile.Name,
		StoreURL:    profile.PrimaryDomain.URL,
		Subdomain:   subdomain,
		AccessToken: token,
		Scope:       cred.Scope,
		Platform:    store.PlatformShopify,
	}, nil
}

// username derives the merchant username from the associated user's email:
// the full address or its local part, per Settings.UsernameFormat.
// Offline tokens carry no associated user and yield "".
func (h *AuthHandler) username(cred *shopify.AccessCredential) string {
	if cred.AssociatedUser == nil {
		return ""
	}
	email := cred.AssociatedUser.Email
	if h.Settings.UsernameFormat == config.UsernameFullEmail {
		return email
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

// notifyConnected queues the store-connected email. Failures are logged only.
func (h *AuthHandler) notifyConnected(r *http.Request, cred *shopify.AccessCredential, m *store.Merchant) {
	if h.ML == nil || cred.AssociatedUser == nil || cred.AssociatedUser.Email == "" {
		return
	}
	err := h.ML.SendStoreConnected(r.Context(), cred.AssociatedUser.Email, map[string]string{
		"storeName": m.StoreName,
		"shop":      m.Subdomain,
	})
	if err != nil {
		logWarn(r, "store connected email failed", "shop", m.Subdomain, "error", err)
	}
}

// dashboardURL appends shop to the configured dashboard URL, keeping any existing query.
func (h *AuthHandler) dashboardURL(shop string) string {
	u, err := url.Parse(h.Settings.DashboardURL)
	if err != nil {
		// Validated at startup; fall back to the raw value.
		return h.Settings.DashboardURL
	}
	q := u.Query()
	q.Set("shop", shop)
	u.RawQuery = q.Encode()
	return u.String()
}
