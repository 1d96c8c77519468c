package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/aristath/folio/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPortfolios struct {
	mock.Mock
}

func (m *mockPortfolios) Get(ctx context.Context, id int64) (*domain.Portfolio, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Portfolio), args.Error(1)
}

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) EnqueueReconcile(portfolioID int64, symbols ...string) (int64, error) {
	args := m.Called(portfolioID, symbols)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOrchestrator) EnqueueRebuild(portfolioID int64, from *time.Time) (int64, error) {
	args := m.Called(portfolioID, from)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOrchestrator) Status(ctx context.Context, portfolioID int64) (*recompute.Status, error) {
	args := m.Called(ctx, portfolioID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recompute.Status), args.Error(1)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) EnqueueRefresh(ctx context.Context, portfolioID int64, scope services.Scope) error {
	return m.Called(ctx, portfolioID, scope).Error(0)
}

type fixture struct {
	portfolios   *mockPortfolios
	orchestrator *mockOrchestrator
	refresher    *mockRefresher
	router       chi.Router
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		portfolios:   &mockPortfolios{},
		orchestrator: &mockOrchestrator{},
		refresher:    &mockRefresher{},
	}
	h := NewHandler(f.portfolios, f.orchestrator, f.refresher, zerolog.Nop())
	f.router = chi.NewRouter()
	h.RegisterRoutes(f.router)
	t.Cleanup(func() {
		f.portfolios.AssertExpectations(t)
		f.orchestrator.AssertExpectations(t)
		f.refresher.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Contains(t, resp, "metadata")
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestHandleReconcile_SingleSymbol(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(7)).Return(&domain.Portfolio{ID: 7}, nil)
	f.orchestrator.On("EnqueueReconcile", int64(7), []string{"AAPL"}).Return(int64(3), nil)

	w := f.do(http.MethodPost, "/portfolios/7/reconcile?symbol=aapl")

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(3), data["generation"])
}

func TestHandleReconcile_AllSymbols(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(7)).Return(&domain.Portfolio{ID: 7}, nil)
	f.orchestrator.On("EnqueueReconcile", int64(7), []string(nil)).Return(int64(1), nil)

	w := f.do(http.MethodPost, "/portfolios/7/reconcile")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleReconcile_UnknownPortfolio(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(9)).Return(nil, nil)

	w := f.do(http.MethodPost, "/portfolios/9/reconcile")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleReconcile_InvalidID(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodPost, "/portfolios/abc/reconcile")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRebuild_FromDate(t *testing.T) {
	f := setup(t)
	from := domain.MustParseDate("2024-03-01")
	f.portfolios.On("Get", mock.Anything, int64(2)).Return(&domain.Portfolio{ID: 2}, nil)
	f.orchestrator.On("EnqueueRebuild", int64(2), &from).Return(int64(5), nil)

	w := f.do(http.MethodPost, "/portfolios/2/rebuild?from=2024-03-01")

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "2024-03-01", data["from"])
	assert.Equal(t, false, data["full"])
}

func TestHandleRebuild_Full(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(2)).Return(&domain.Portfolio{ID: 2}, nil)
	f.orchestrator.On("EnqueueRebuild", int64(2), (*time.Time)(nil)).Return(int64(1), nil)

	w := f.do(http.MethodPost, "/portfolios/2/rebuild")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decodeData(t, w)["full"])
}

func TestHandleRebuild_BadDate(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(2)).Return(&domain.Portfolio{ID: 2}, nil)

	w := f.do(http.MethodPost, "/portfolios/2/rebuild?from=03/01/2024")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRefresh_ForcedSymbol(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(4)).Return(&domain.Portfolio{ID: 4}, nil)
	f.refresher.On("EnqueueRefresh", mock.Anything, int64(4), services.Scope{Symbol: "VOD.L", Force: true}).Return(nil)

	w := f.do(http.MethodPost, "/portfolios/4/refresh?symbol=vod.l&force=true")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleRefresh_InvalidForce(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(4)).Return(&domain.Portfolio{ID: 4}, nil)

	w := f.do(http.MethodPost, "/portfolios/4/refresh?force=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRefresh_EnqueueFailure(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(4)).Return(&domain.Portfolio{ID: 4}, nil)
	f.refresher.On("EnqueueRefresh", mock.Anything, int64(4), services.Scope{}).Return(errors.New("queue closed"))

	w := f.do(http.MethodPost, "/portfolios/4/refresh")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleStatus(t *testing.T) {
	f := setup(t)
	f.portfolios.On("Get", mock.Anything, int64(3)).Return(&domain.Portfolio{ID: 3}, nil)
	f.orchestrator.On("Status", mock.Anything, int64(3)).Return(&recompute.Status{
		PortfolioID: 3,
		State:       recompute.StateRebuilding,
		Generation:  8,
		Pending:     true,
	}, nil)

	w := f.do(http.MethodGet, "/portfolios/3/status")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "rebuilding_valuation", data["state"])
	assert.Equal(t, float64(8), data["generation"])
	assert.Equal(t, true, data["pending"])
}
