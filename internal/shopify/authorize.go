// authorize.go -- authorize (consent) URL construction.
package shopify

import (
	"fmt"
	"net/url"
	"strings"

	goshopify "github.com/bold-commerce/go-shopify/v4"
)

// AuthorizeParams are the app-level inputs to the consent redirect.
type AuthorizeParams struct {
	ClientID     string
	Scopes       []string
	RedirectURI  string
	State        string
	PerUserGrant bool // request an online (per-user) token
}

// AuthorizeURL returns https://{shop}/admin/oauth/authorize with client_id, scope,
// redirect_uri and state set. shop must already be validated.
func AuthorizeURL(shop string, p AuthorizeParams) (string, error) {
	app := goshopify.App{
		ApiKey:      p.ClientID,
		RedirectUrl: p.RedirectURI,
		Scope:       strings.Join(p.Scopes, ","),
	}
	raw, err := app.AuthorizeUrl(shop, p.State)
	if err != nil {
		return "", fmt.Errorf("building authorize url: %w", err)
	}
	if !p.PerUserGrant {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing authorize url: %w", err)
	}
	q := u.Query()
	q.Add("grant_options[]", "per-user")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
