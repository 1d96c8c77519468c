// Package handlers provides the operator HTTP endpoints that trigger and
// inspect portfolio recomputation.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/aristath/folio/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// PortfolioLookup resolves portfolios.
type PortfolioLookup interface {
	Get(ctx context.Context, id int64) (*domain.Portfolio, error)
}

// Orchestrator schedules recomputation and reports its state.
type Orchestrator interface {
	EnqueueReconcile(portfolioID int64, symbols ...string) (int64, error)
	EnqueueRebuild(portfolioID int64, from *time.Time) (int64, error)
	Status(ctx context.Context, portfolioID int64) (*recompute.Status, error)
}

// Refresher schedules market data refreshes.
type Refresher interface {
	EnqueueRefresh(ctx context.Context, portfolioID int64, scope services.Scope) error
}

// Handler handles recompute HTTP requests
type Handler struct {
	portfolios   PortfolioLookup
	orchestrator Orchestrator
	refresher    Refresher
	log          zerolog.Logger
}

// NewHandler creates a new recompute handler
func NewHandler(portfolios PortfolioLookup, orchestrator Orchestrator, refresher Refresher, log zerolog.Logger) *Handler {
	return &Handler{
		portfolios:   portfolios,
		orchestrator: orchestrator,
		refresher:    refresher,
		log:          log.With().Str("handler", "recompute").Logger(),
	}
}

// portfolioID parses the {id} URL parameter and checks the portfolio exists.
// It writes the error response itself and returns false on failure.
func (h *Handler) portfolioID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return 0, false
	}
	p, err := h.portfolios.Get(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", id).Msg("Failed to load portfolio")
		h.writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return 0, false
	}
	if p == nil {
		h.writeError(w, http.StatusNotFound, "portfolio not found")
		return 0, false
	}
	return id, true
}

// HandleReconcile handles POST /api/portfolios/{id}/reconcile?symbol=
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.portfolioID(w, r)
	if !ok {
		return
	}

	var symbols []string
	if symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))); symbol != "" {
		symbols = append(symbols, symbol)
	}

	gen, err := h.orchestrator.EnqueueReconcile(id, symbols...)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", id).Msg("Failed to enqueue reconcile")
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue reconcile")
		return
	}

	h.writeAccepted(w, map[string]interface{}{
		"portfolio_id": id,
		"generation":   gen,
		"symbols":      symbols,
	})
}

// HandleRebuild handles POST /api/portfolios/{id}/rebuild?from=YYYY-MM-DD
func (h *Handler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	id, ok := h.portfolioID(w, r)
	if !ok {
		return
	}

	var from *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		d, err := domain.ParseDate(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
		from = &d
	}

	gen, err := h.orchestrator.EnqueueRebuild(id, from)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", id).Msg("Failed to enqueue rebuild")
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue rebuild")
		return
	}

	resp := map[string]interface{}{
		"portfolio_id": id,
		"generation":   gen,
		"full":         from == nil,
	}
	if from != nil {
		resp["from"] = domain.FormatDate(*from)
	}
	h.writeAccepted(w, resp)
}

// HandleRefresh handles POST /api/portfolios/{id}/refresh?symbol=&force=
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := h.portfolioID(w, r)
	if !ok {
		return
	}

	scope := services.Scope{Symbol: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))}
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid force flag")
			return
		}
		scope.Force = force
	}

	if err := h.refresher.EnqueueRefresh(r.Context(), id, scope); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.log.Error().Err(err).Int64("portfolio_id", id).Msg("Failed to enqueue refresh")
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue refresh")
		return
	}

	h.writeAccepted(w, map[string]interface{}{
		"portfolio_id": id,
		"scope":        scope,
	})
}

// HandleStatus handles GET /api/portfolios/{id}/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.portfolioID(w, r)
	if !ok {
		return
	}

	status, err := h.orchestrator.Status(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", id).Msg("Failed to get status")
		h.writeError(w, http.StatusInternalServerError, "failed to get status")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeAccepted(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusAccepted, data)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
