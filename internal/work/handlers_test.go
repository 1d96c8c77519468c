package work

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers_EnqueueAndStats(t *testing.T) {
	p, completion := newTestProcessor(t, 1, &WorkType{
		ID:      "recompute",
		Execute: func(ctx context.Context, subject string) error { return nil },
	})
	h := NewHandlers(p, p.registry, completion, zerolog.Nop())
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/work/recompute/9/enqueue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Data struct {
			Queued bool `json:"queued"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Data.Queued)

	req = httptest.NewRequest(http.MethodGet, "/work/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Data Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Data.Pending)
}

func TestHandlers_UnknownWorkType(t *testing.T) {
	p, completion := newTestProcessor(t, 1)
	h := NewHandlers(p, p.registry, completion, zerolog.Nop())
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/work/nope/1/enqueue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_ListWorkTypes(t *testing.T) {
	p, completion := newTestProcessor(t, 1,
		&WorkType{ID: "refresh", Priority: PriorityMedium},
		&WorkType{ID: "recompute", Priority: PriorityHigh},
	)
	h := NewHandlers(p, p.registry, completion, zerolog.Nop())

	w := httptest.NewRecorder()
	h.ListWorkTypes(w, httptest.NewRequest(http.MethodGet, "/work/types", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "recompute", resp.Data[0]["id"])
	assert.Equal(t, "High", resp.Data[0]["priority"])
}
