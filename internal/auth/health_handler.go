// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pusheagle/storelink/internal/store"
)

// CheckHealth handles GET /health -- pings the merchant store and Redis, returns per-dependency status.
// Returns 200 if both are healthy (Redis may be "disabled"), 503 if either is down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"
	storeStatus := "ok"

	if err := h.RL.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrCacheDisabled) {
			redisStatus = "disabled"
		} else {
			logError(r, "redis health check failed", "error", err)
			redisStatus = "error"
		}
	}
	if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "store health check failed", "error", err)
		storeStatus = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if redisStatus == "error" || storeStatus == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(struct {
		Store string `json:"store"`
		Redis string `json:"redis"`
	}{storeStatus, redisStatus})
}
