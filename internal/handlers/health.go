package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Health handles GET /health. The base check is a static liveness
// probe; ?db=1 additionally pings the store so a wedged database shows
// up as degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if r.URL.Query().Get("db") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		start := time.Now()
		if err := h.store.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["db"] = "fail"
			h.JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["db"] = "ok"
		resp["db_latency"] = time.Since(start).String()
	}

	h.JSON(w, http.StatusOK, resp)
}
