package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/cvsyn/rin-api/internal/config"
	"github.com/cvsyn/rin-api/internal/identity"
	"github.com/cvsyn/rin-api/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *identity.Service
	store  store.DataStore
	cfg    *config.Config
	logger zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *identity.Service, st store.DataStore, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, store: st, cfg: cfg, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps a core failure to its HTTP status. Exhausted
// issuance retries surface as 503 so callers know to retry; an invalid
// claim token is 403 rather than 401 because the request is
// authenticated, just wrong.
func (h *Handler) ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrExhaustedRetries):
		h.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, identity.ErrInvalidToken):
		h.Error(w, http.StatusForbidden, err.Error())
	default:
		switch identity.KindOf(err) {
		case identity.KindValidation:
			h.Error(w, http.StatusBadRequest, err.Error())
		case identity.KindAuth:
			h.Error(w, http.StatusUnauthorized, err.Error())
		case identity.KindNotFound:
			h.Error(w, http.StatusNotFound, err.Error())
		case identity.KindConflict:
			h.Error(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error().Err(err).Msg("request failed")
			h.Error(w, http.StatusInternalServerError, "Internal server error")
		}
	}
}

// safeTrim trims whitespace and control characters and limits the
// value to maxLen bytes, cutting on a rune boundary so the result is
// always valid UTF-8.
func safeTrim(value string, maxLen int) string {
	value = strings.TrimSpace(value)

	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)

	if len(value) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		value = value[:cut]
	}
	return value
}

// optional converts an empty string to a nil pointer.
func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
