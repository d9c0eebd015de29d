// Package handlers provides the HTTP handler for passive-income analytics.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/modules/analytics"
)

// Handler handles analytics HTTP requests.
type Handler struct {
	service *analytics.Service
	log     zerolog.Logger
}

// NewHandler creates a new analytics handler.
func NewHandler(service *analytics.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "analytics").Logger(),
	}
}

// RegisterRoutes registers the analytics routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/analytics/passive-income", h.HandlePassiveIncome)
}

// HandlePassiveIncome returns the monthly passive-income series for the
// requested period. Boundaries come as ?start=YYYY-MM&end=YYYY-MM; the
// current month is the default for either.
func (h *Handler) HandlePassiveIncome(w http.ResponseWriter, r *http.Request) {
	start, end := analytics.ResolvePeriod(r.URL.Query().Get("start"), r.URL.Query().Get("end"), time.Now().UTC())

	summary, err := h.service.Summary(userID(r), start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute passive income")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute passive income")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"period": map[string]string{
			"start": analytics.MonthKey(start),
			"end":   analytics.MonthKey(end),
		},
		"summary": summary,
	})
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
