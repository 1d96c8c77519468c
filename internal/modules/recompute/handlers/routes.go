package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the recompute routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/{id}/status", h.HandleStatus)
	r.Post("/portfolios/{id}/reconcile", h.HandleReconcile)
	r.Post("/portfolios/{id}/rebuild", h.HandleRebuild)
	r.Post("/portfolios/{id}/refresh", h.HandleRefresh)
}
