// client.go -- Shopify token exchange and Admin GraphQL shop profile calls.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIVersion is the Admin API version used when none is configured.
const DefaultAPIVersion = "2025-07"

// maxBodyBytes caps how much of any Shopify response is read into memory.
const maxBodyBytes = 1 << 20

// Sentinel errors. Every failure from ExchangeCode wraps ErrTokenExchange and every
// failure from FetchShop wraps ErrProfileFetch, so callers can classify with errors.Is.
var (
	ErrTokenExchange = errors.New("shopify: token exchange failed")
	ErrProfileFetch  = errors.New("shopify: shop profile fetch failed")
)

// StatusError is returned (wrapped) when Shopify answers with a non-2xx status.
// Body is truncated and may be empty.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// AssociatedUser is the staff member an online (per-user) token was issued for.
type AssociatedUser struct {
	ID            int64  `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AccountOwner  bool   `json:"account_owner"`
}

// AccessCredential is the result of a successful token exchange.
type AccessCredential struct {
	AccessToken    string          `json:"access_token"`
	Scope          string          `json:"scope"`
	ExpiresIn      int             `json:"expires_in,omitempty"` // online tokens only
	AssociatedUser *AssociatedUser `json:"associated_user,omitempty"`
}

// Scopes splits the granted scope string.
func (c *AccessCredential) Scopes() []string {
	var out []string
	for _, s := range strings.Split(c.Scope, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PrimaryDomain is the storefront domain a merchant has set as primary.
type PrimaryDomain struct {
	URL  string `json:"url"`
	Host string `json:"host"`
}

// ShopProfile is the subset of the shop object read after install.
type ShopProfile struct {
	Name            string        `json:"name"`
	MyshopifyDomain string        `json:"myshopifyDomain"`
	PrimaryDomain   PrimaryDomain `json:"primaryDomain"`
}

const shopProfileQuery = `query {
  shop {
    name
    myshopifyDomain
    primaryDomain {
      url
      host
    }
  }
}`

// ClientConfig configures a Client.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	APIVersion   string        // defaults to DefaultAPIVersion
	Timeout      time.Duration // per-request; defaults to 10s
}

// Client talks to a single Shopify app's endpoints on behalf of any shop.
// Safe for concurrent use. Requests are attempted once; failures are returned, never retried.
type Client struct {
	clientID     string
	clientSecret string
	apiVersion   string
	httpClient   *http.Client

	// baseURL maps a shop domain to its origin. Overridden in tests.
	baseURL func(shop string) string
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiVersion:   cfg.APIVersion,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      func(shop string) string { return "https://" + shop },
	}
}

// ExchangeCode trades a one-time authorization code for an access token.
// shop must already be validated. Non-2xx, transport errors, malformed bodies and
// an empty access_token all return an error wrapping ErrTokenExchange.
func (c *Client) ExchangeCode(ctx context.Context, shop, code string) (*AccessCredential, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", ErrTokenExchange, err)
	}

	raw, err := c.postJSON(ctx, c.baseURL(shop)+"/admin/oauth/access_token", body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	var cred AccessCredential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrTokenExchange, err)
	}
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access_token in response", ErrTokenExchange)
	}
	return &cred, nil
}

// FetchShop reads the shop profile through the Admin GraphQL API.
// A non-empty errors array or a missing data.shop is a failure even on HTTP 200.
// All failures wrap ErrProfileFetch.
func (c *Client) FetchShop(ctx context.Context, shop, accessToken string) (*ShopProfile, error) {
	body, err := json.Marshal(map[string]string{"query": shopProfileQuery})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", ErrProfileFetch, err)
	}

	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL(shop), c.apiVersion)
	raw, err := c.postJSON(ctx, endpoint, body, map[string]string{"X-Shopify-Access-Token": accessToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetch, err)
	}

	var resp struct {
		Data struct {
			Shop *ShopProfile `json:"shop"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrProfileFetch, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("%w: graphql errors: %s", ErrProfileFetch, strings.Join(msgs, "; "))
	}
	if resp.Data.Shop == nil {
		return nil, fmt.Errorf("%w: response has no shop", ErrProfileFetch)
	}
	return resp.Data.Shop, nil
}

// postJSON sends body as a JSON POST and returns the response body.
// Non-2xx responses return a *StatusError carrying a truncated body.
func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: snippet}
	}
	return raw, nil
}
