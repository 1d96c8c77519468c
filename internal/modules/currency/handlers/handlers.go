// Package handlers provides HTTP handlers for currency conversion.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Converter converts amounts between currencies on a date.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (*currency.Conversion, error)
}

// Handler handles currency HTTP requests
type Handler struct {
	converter Converter
	log       zerolog.Logger
	now       func() time.Time
}

// NewHandler creates a new currency handler
func NewHandler(converter Converter, log zerolog.Logger) *Handler {
	return &Handler{
		converter: converter,
		log:       log.With().Str("handler", "currency").Logger(),
		now:       time.Now,
	}
}

// HandleConvert handles GET /api/fx/convert?amount=&from=&to=&date=
// The date defaults to today.
func (h *Handler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		h.writeError(w, http.StatusBadRequest, "from and to currencies are required")
		return
	}

	amount := decimal.NewFromInt(1)
	if raw := q.Get("amount"); raw != "" {
		a, err := decimal.NewFromString(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		amount = a
	}

	date := domain.Day(h.now())
	if raw := q.Get("date"); raw != "" {
		d, err := domain.ParseDate(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		date = d
	}

	conv, err := h.converter.Convert(r.Context(), amount, from, to, date)
	if err != nil {
		var noRate *domain.NoRateAvailableError
		switch {
		case errors.Is(err, currency.ErrUnknownCurrency):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &noRate):
			h.log.Warn().Err(err).Str("from", from).Str("to", to).Msg("No rate available")
			h.writeError(w, http.StatusNotFound, err.Error())
		default:
			h.log.Error().Err(err).Str("from", from).Str("to", to).Msg("Failed to convert")
			h.writeError(w, http.StatusBadGateway, "failed to convert")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":         amount,
		"from":           conv.From,
		"to":             conv.To,
		"rate":           conv.Rate,
		"converted":      currency.Round(conv.Amount, conv.To),
		"requested_date": domain.FormatDate(conv.RequestedDate),
		"rate_date":      domain.FormatDate(conv.RateDate),
		"source":         conv.Source,
		"fallback":       conv.Fallback,
	})
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
