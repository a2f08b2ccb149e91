package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/cvsyn/rin-api/internal/api/middleware"
)

// AdminStats handles GET /admin/stats. Access requires the admin key
// and, when an allow-list is configured, a matching source IP. The key
// comparison is constant time.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminKey == "" {
		h.Error(w, http.StatusNotFound, "Not found")
		return
	}

	presented := r.Header.Get("X-Admin-Key")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.cfg.AdminKey)) != 1 {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if len(h.cfg.AdminIPAllowlist) > 0 {
		ip := middleware.ClientIP(r)
		allowed := false
		for _, candidate := range h.cfg.AdminIPAllowlist {
			if candidate == ip {
				allowed = true
				break
			}
		}
		if !allowed {
			h.Error(w, http.StatusForbidden, "Forbidden")
			return
		}
	}

	report, err := h.svc.Stats(r.Context())
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, report)
}
