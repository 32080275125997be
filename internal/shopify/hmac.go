// hmac.go -- Shopify query-string signatures.
package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// CanonicalQuery builds the message Shopify signs: every parameter except hmac,
// sorted by key, joined as key=value pairs with '&'. Values are used as
// received (already URL-decoded). Repeated keys contribute one pair per value.
func CanonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hmac" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// SignQuery returns the lowercase hex HMAC-SHA256 of CanonicalQuery(values) under secret.
func SignQuery(values url.Values, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalQuery(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyQuery reports whether values carries an hmac parameter matching its other
// parameters under secret. Missing or non-hex signatures fail. Comparison is constant time.
func VerifyQuery(values url.Values, secret string) bool {
	given, err := hex.DecodeString(values.Get("hmac"))
	if err != nil || len(given) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalQuery(values)))
	return hmac.Equal(mac.Sum(nil), given)
}
