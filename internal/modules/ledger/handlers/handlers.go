// Package handlers provides HTTP handlers for ledger mutations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerService records ledger mutations.
type LedgerService interface {
	RecordTransaction(ctx context.Context, in ledger.TransactionInput) (*domain.Transaction, error)
	AmendTransaction(ctx context.Context, portfolioID, id int64, in ledger.TransactionInput) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, portfolioID, id int64) error
	RecordDividend(ctx context.Context, in ledger.DividendInput) (*domain.Dividend, error)
	DeleteDividend(ctx context.Context, portfolioID, id int64) error
}

// Handler handles ledger HTTP requests
type Handler struct {
	service LedgerService
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service LedgerService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

// TransactionRequest is the body of transaction create and amend requests.
// Quantity and price accept JSON strings or numbers.
type TransactionRequest struct {
	TradeDate string                 `json:"trade_date"`
	Type      domain.TransactionType `json:"type"`
	Symbol    string                 `json:"symbol"`
	Currency  string                 `json:"currency"`
	Quantity  decimal.Decimal        `json:"quantity"`
	Price     decimal.Decimal        `json:"price"`
}

// DividendRequest is the body of POST /api/portfolios/{id}/dividends
type DividendRequest struct {
	PayDate  string          `json:"pay_date"`
	Symbol   string          `json:"symbol"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

func (req TransactionRequest) input(portfolioID int64) (ledger.TransactionInput, error) {
	d, err := domain.ParseDate(req.TradeDate)
	if err != nil {
		return ledger.TransactionInput{}, err
	}
	return ledger.TransactionInput{
		PortfolioID: portfolioID,
		TradeDate:   d,
		Type:        req.Type,
		Symbol:      req.Symbol,
		Currency:    req.Currency,
		Quantity:    req.Quantity,
		Price:       req.Price,
	}, nil
}

// HandleCreateTransaction handles POST /api/portfolios/{id}/transactions
func (h *Handler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.input(portfolioID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trade_date, expected YYYY-MM-DD")
		return
	}

	t, err := h.service.RecordTransaction(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "failed to record transaction")
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

// HandleAmendTransaction handles PUT /api/portfolios/{id}/transactions/{txID}
// The amended transaction is stored under a new ID, returned in the body.
func (h *Handler) HandleAmendTransaction(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	txID, ok := h.pathID(w, r, "txID")
	if !ok {
		return
	}
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.input(portfolioID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trade_date, expected YYYY-MM-DD")
		return
	}

	t, err := h.service.AmendTransaction(r.Context(), portfolioID, txID, in)
	if err != nil {
		h.writeServiceError(w, err, "failed to amend transaction")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"replaced_id": txID,
		"transaction": t,
	})
}

// HandleDeleteTransaction handles DELETE /api/portfolios/{id}/transactions/{txID}
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	txID, ok := h.pathID(w, r, "txID")
	if !ok {
		return
	}

	if err := h.service.DeleteTransaction(r.Context(), portfolioID, txID); err != nil {
		h.writeServiceError(w, err, "failed to delete transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateDividend handles POST /api/portfolios/{id}/dividends
func (h *Handler) HandleCreateDividend(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req DividendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payDate, err := domain.ParseDate(req.PayDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid pay_date, expected YYYY-MM-DD")
		return
	}

	d, err := h.service.RecordDividend(r.Context(), ledger.DividendInput{
		PortfolioID: portfolioID,
		PayDate:     payDate,
		Symbol:      req.Symbol,
		Currency:    req.Currency,
		Amount:      req.Amount,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to record dividend")
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

// HandleDeleteDividend handles DELETE /api/portfolios/{id}/dividends/{divID}
func (h *Handler) HandleDeleteDividend(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	divID, ok := h.pathID(w, r, "divID")
	if !ok {
		return
	}

	if err := h.service.DeleteDividend(r.Context(), portfolioID, divID); err != nil {
		h.writeServiceError(w, err, "failed to delete dividend")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

// writeServiceError maps ledger errors to HTTP statuses. Validation failures
// are echoed back; anything else is logged and hidden.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrInvalidTransaction):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, msg)
	}
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
