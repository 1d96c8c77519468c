package work

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handlers provides HTTP handlers for the work processor
type Handlers struct {
	processor  *Processor
	registry   *Registry
	completion *CompletionTracker
	log        zerolog.Logger
}

// NewHandlers creates new HTTP handlers for the work processor
func NewHandlers(processor *Processor, registry *Registry, completion *CompletionTracker, log zerolog.Logger) *Handlers {
	return &Handlers{
		processor:  processor,
		registry:   registry,
		completion: completion,
		log:        log.With().Str("handler", "work").Logger(),
	}
}

// RegisterRoutes registers HTTP routes for work management
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/work", func(r chi.Router) {
		r.Get("/types", h.ListWorkTypes)
		r.Get("/stats", h.GetStats)
		r.Post("/{workType}/{subject}/enqueue", h.EnqueueWork)
	})
}

// ListWorkTypes returns all registered work types with their last completion
// for global work.
func (h *Handlers) ListWorkTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.ByPriority()

	response := make([]map[string]any, 0, len(types))
	for _, wt := range types {
		entry := map[string]any{
			"id":       wt.ID,
			"priority": wt.Priority.String(),
		}
		if c, ok := h.completion.GetCompletion(wt.ID, ""); ok {
			entry["last_completion"] = c
		}
		response = append(response, entry)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// GetStats returns queue sizes.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.processor.Stats())
}

// EnqueueWork queues a work type for a subject.
func (h *Handlers) EnqueueWork(w http.ResponseWriter, r *http.Request) {
	workType := chi.URLParam(r, "workType")
	subject := chi.URLParam(r, "subject")

	queued, err := h.processor.Enqueue(workType, subject)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"work_type": workType,
		"subject":   subject,
		"queued":    queued,
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"data": data,
		"metadata": map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
