// state.go -- signed OAuth state token and its cookie.
//
// The state is an HS256 JWT carrying a random nonce, the shop it was issued
// for, and an expiry. The same string goes into the authorize URL and the
// cookie; the callback requires both to match and the signature to verify,
// so no server-side session storage is needed. The cookie is cleared on
// every callback, which makes each token single use from the browser's side.
// With a NonceLedger configured the nonce is also claimed server-side, so a
// captured state and cookie pair is refused on replay.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateCookieName carries the state token between /login and /callback.
const StateCookieName = "shopify_oauth_state"

// errShopMismatch is returned when a valid token was issued for a different shop.
var errShopMismatch = errors.New("state issued for a different shop")

// errStateReplayed is returned when a state nonce has already been claimed.
var errStateReplayed = errors.New("state already used")

// newStateToken mints a state token for shop, valid for ttl from now.
// The nonce carries 128 bits of entropy.
func newStateToken(secret []byte, shop string, ttl time.Duration, now time.Time) (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}

	claims := jwt.RegisteredClaims{
		ID:        hex.EncodeToString(nonce[:]),
		Subject:   shop,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// parseStateToken verifies signature, algorithm and expiry, and that the token
// was issued for shop (case-insensitive).
func parseStateToken(secret []byte, token, shop string, now time.Time) (*jwt.RegisteredClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if claims.ID == "" {
		return nil, errors.New("state has no nonce")
	}
	if !strings.EqualFold(claims.Subject, shop) {
		return nil, errShopMismatch
	}
	return &claims, nil
}

// setStateCookie stores the state token in a short-lived HttpOnly cookie.
func setStateCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// clearStateCookie expires the state cookie immediately.
func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
