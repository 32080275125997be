// domain.go -- shop domain normalization and validation.
package shopify

import (
	"regexp"
	"strings"
)

// shopDomainPattern matches a bare myshopify.com hostname: no scheme, no path, no port.
var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

// ValidShopDomain reports whether shop is a well-formed {name}.myshopify.com host.
// Anything else is refused before it reaches an outbound URL.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

// NormalizeShop lower-cases a merchant-typed shop value and trims whitespace,
// an http(s) scheme, and trailing slashes. The result still has to pass ValidShopDomain.
func NormalizeShop(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimRight(s, "/")
}
