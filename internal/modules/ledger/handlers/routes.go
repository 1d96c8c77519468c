package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	// Transactions
	r.Post("/portfolios/{id}/transactions", h.HandleCreateTransaction)
	r.Put("/portfolios/{id}/transactions/{txID}", h.HandleAmendTransaction)
	r.Delete("/portfolios/{id}/transactions/{txID}", h.HandleDeleteTransaction)

	// Dividends
	r.Post("/portfolios/{id}/dividends", h.HandleCreateDividend)
	r.Delete("/portfolios/{id}/dividends/{divID}", h.HandleDeleteDividend)
}
