// Package handlers provides HTTP handlers for portfolios and their derived
// holdings and valuation series.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// PortfolioStore persists portfolios.
type PortfolioStore interface {
	Create(ctx context.Context, p *domain.Portfolio) error
	Get(ctx context.Context, id int64) (*domain.Portfolio, error)
	List(ctx context.Context) ([]domain.Portfolio, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Portfolio, error)
}

// HoldingLister lists reconciled holdings.
type HoldingLister interface {
	List(ctx context.Context, portfolioID int64, includeClosed bool) ([]domain.Holding, error)
}

// DailySeries reads the daily valuation series.
type DailySeries interface {
	Range(ctx context.Context, portfolioID int64, from, to time.Time) ([]domain.DailyChange, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	portfolios PortfolioStore
	holdings   HoldingLister
	daily      DailySeries
	// defaultBase applies when a create request names no base currency.
	defaultBase string
	log         zerolog.Logger
	now         func() time.Time
}

// NewHandler creates a new portfolio handler
func NewHandler(portfolios PortfolioStore, holdings HoldingLister, daily DailySeries, defaultBase string, log zerolog.Logger) *Handler {
	return &Handler{
		portfolios:  portfolios,
		holdings:    holdings,
		daily:       daily,
		defaultBase: defaultBase,
		log:         log.With().Str("handler", "portfolio").Logger(),
		now:         time.Now,
	}
}

// CreatePortfolioRequest is the body of POST /api/portfolios
type CreatePortfolioRequest struct {
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
	UserID       int64  `json:"user_id"`
}

// DailyResponse is the body of GET /api/portfolios/{id}/daily
type DailyResponse struct {
	Rows    []domain.DailyChange `json:"rows"`
	Summary valuation.Summary    `json:"summary"`
}

// HandleCreatePortfolio handles POST /api/portfolios
func (h *Handler) HandleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.BaseCurrency == "" {
		req.BaseCurrency = h.defaultBase
	}
	p := &domain.Portfolio{UserID: req.UserID, Name: req.Name, BaseCurrency: req.BaseCurrency}
	if err := h.portfolios.Create(r.Context(), p); err != nil {
		if errors.Is(err, domain.ErrInvalidPortfolio) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to create portfolio")
		h.writeError(w, http.StatusInternalServerError, "failed to create portfolio")
		return
	}

	h.writeJSON(w, http.StatusCreated, p)
}

// HandleListPortfolios handles GET /api/portfolios?user_id=
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Portfolio
		err  error
	)
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || userID <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		list, err = h.portfolios.ListByUser(r.Context(), userID)
	} else {
		list, err = h.portfolios.List(r.Context())
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list portfolios")
		h.writeError(w, http.StatusInternalServerError, "failed to list portfolios")
		return
	}
	if list == nil {
		list = []domain.Portfolio{}
	}

	h.writeJSON(w, http.StatusOK, list)
}

// HandleGetPortfolio handles GET /api/portfolios/{id}
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, ok := h.portfolio(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleGetHoldings handles GET /api/portfolios/{id}/holdings?include_closed=
func (h *Handler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	p, ok := h.portfolio(w, r)
	if !ok {
		return
	}

	includeClosed := false
	if raw := r.URL.Query().Get("include_closed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid include_closed flag")
			return
		}
		includeClosed = v
	}

	list, err := h.holdings.List(r.Context(), p.ID, includeClosed)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", p.ID).Msg("Failed to list holdings")
		h.writeError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}
	if list == nil {
		list = []domain.Holding{}
	}

	h.writeJSON(w, http.StatusOK, list)
}

// HandleGetDaily handles GET /api/portfolios/{id}/daily?from=&to=
// Both bounds are optional; the range defaults to the last 30 days.
func (h *Handler) HandleGetDaily(w http.ResponseWriter, r *http.Request) {
	p, ok := h.portfolio(w, r)
	if !ok {
		return
	}

	to := domain.Day(h.now())
	from := to.AddDate(0, 0, -30)
	q := r.URL.Query()
	if raw := q.Get("to"); raw != "" {
		d, err := domain.ParseDate(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
			return
		}
		to = d
	}
	if raw := q.Get("from"); raw != "" {
		d, err := domain.ParseDate(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
		from = d
	}
	if from.After(to) {
		h.writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	rows, err := h.daily.Range(r.Context(), p.ID, from, to)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", p.ID).Msg("Failed to read daily valuations")
		h.writeError(w, http.StatusInternalServerError, "failed to read daily valuations")
		return
	}
	if rows == nil {
		rows = []domain.DailyChange{}
	}

	h.writeJSON(w, http.StatusOK, DailyResponse{Rows: rows, Summary: valuation.Summarize(rows)})
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) (*domain.Portfolio, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return nil, false
	}
	p, err := h.portfolios.Get(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("portfolio_id", id).Msg("Failed to load portfolio")
		h.writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return nil, false
	}
	if p == nil {
		h.writeError(w, http.StatusNotFound, "portfolio not found")
		return nil, false
	}
	return p, true
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
