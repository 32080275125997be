// middleware.go

// Panic recovery and client address resolution for the JSON API.
package auth

import (
	"net/http"
	"net/netip"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
)

// RecoverJSON converts a panic in any downstream handler into a generic 500
// {"error":"internal server error"} and logs the stack server-side.
// http.ErrAbortHandler is re-panicked so net/http can abort the response.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logError(r, "panic recovered", "panic", rec, "stack", string(debug.Stack()))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// TrustedRealIP applies chi's RealIP only when the TCP peer is one of trusted.
// Every other request keeps its peer address. With no trusted proxies
// forwarding headers are always ignored.
func TrustedRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		realIP := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peerTrusted(r.RemoteAddr, trusted) {
				realIP.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// peerTrusted reports whether remoteAddr ("ip:port" or bare ip) falls in trusted.
func peerTrusted(remoteAddr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		addr = ap.Addr()
	} else if a, err := netip.ParseAddr(remoteAddr); err == nil {
		addr = a
	} else {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
