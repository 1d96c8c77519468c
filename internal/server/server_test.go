package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/events"
	testhelpers "github.com/aristath/folio/internal/testing"
	"github.com/aristath/folio/internal/work"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

type fixedStats struct{}

func (fixedStats) Stats() work.Stats { return work.Stats{Pending: 2, Running: 1} }

func newTestServer(t *testing.T) (*Server, *events.Bus, func() error) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "folio")
	t.Cleanup(cleanup)
	bus := events.NewBus(zerolog.Nop())

	s := New(Config{
		Log:       zerolog.Nop(),
		Databases: []*database.DB{db},
		EventBus:  bus,
		Work:      fixedStats{},
		Routes:    []RouteRegistrar{pingRoutes{}},
		Port:      0,
		DevMode:   true,
	})
	s.systemHandlers.stats = func() (float64, float64) { return 12.5, 40 }
	return s, bus, db.Close
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSystemHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/system/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Data.Status)
	require.Len(t, resp.Data.Databases, 1)
	assert.Equal(t, "folio", resp.Data.Databases[0].Name)
	assert.True(t, resp.Data.Databases[0].Healthy)
	require.NotNil(t, resp.Data.Work)
	assert.Equal(t, 2, resp.Data.Work.Pending)
	assert.Equal(t, 12.5, resp.Data.CPUPercent)
}

func TestSystemHealth_ClosedDatabaseIsDegraded(t *testing.T) {
	s, _, closeDB := newTestServer(t)
	require.NoError(t, closeDB())

	w := serve(s, http.MethodGet, "/api/system/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestDatabaseStats(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/system/databases")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []DatabaseStats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Positive(t, resp.Data[0].PageCount)
}

func TestModuleRoutesMountedUnderAPI(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/ping").Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventsStream_FiltersByPortfolio(t *testing.T) {
	s, bus, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?types=valuation_rebuilt&portfolio_id=7", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() map[string]interface{} {
		for lines.Scan() {
			line := lines.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
			return payload
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return nil
	}

	assert.Equal(t, "connected", next()["type"])

	manager := events.NewManager(bus, zerolog.Nop())
	manager.Emit("test", &events.ValuationRebuiltData{PortfolioID: 3, Rows: 1})
	manager.Emit("test", &events.HoldingsReconciledData{PortfolioID: 7})
	manager.Emit("test", &events.ValuationRebuiltData{PortfolioID: 7, Rows: 10})

	got := next()
	assert.Equal(t, string(events.ValuationRebuilt), got["type"])
	data := got["data"].(map[string]interface{})
	assert.Equal(t, float64(7), data["portfolio_id"])
	assert.Equal(t, float64(10), data["rows"])
}

func TestMatchesPortfolio(t *testing.T) {
	assert.True(t, matchesPortfolio(events.Event{Data: &events.RecomputeFailedData{PortfolioID: 4}}, "4"))
	assert.False(t, matchesPortfolio(events.Event{Data: &events.RecomputeFailedData{PortfolioID: 4}}, "5"))
	assert.True(t, matchesPortfolio(events.Event{Data: &events.MarketDataRefreshedData{Symbol: "AAPL"}}, "5"))
}
