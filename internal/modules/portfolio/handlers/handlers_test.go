package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/portfolio"
	testhelpers "github.com/aristath/folio/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSeries struct {
	rows     []domain.DailyChange
	from, to time.Time
}

func (s *stubSeries) Range(_ context.Context, _ int64, from, to time.Time) ([]domain.DailyChange, error) {
	s.from, s.to = from, to
	return s.rows, nil
}

func setup(t *testing.T) (chi.Router, *holdings.Repository, *stubSeries) {
	t.Helper()
	db := testhelpers.NewFolioDB(t)
	holdingRepo := holdings.NewRepository(db.Conn(), zerolog.Nop())
	series := &stubSeries{}
	h := NewHandler(portfolio.NewRepository(db.Conn(), zerolog.Nop()), holdingRepo, series, "EUR", zerolog.Nop())
	h.now = func() time.Time { return testhelpers.D("2024-06-30") }

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, holdingRepo, series
}

func do(r chi.Router, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var resp struct {
		Data     json.RawMessage        `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Metadata, "timestamp")
	return resp.Data
}

func createPortfolio(t *testing.T, r chi.Router, userID int64, ccy string) domain.Portfolio {
	t.Helper()
	w := do(r, http.MethodPost, "/portfolios", CreatePortfolioRequest{Name: "Main", BaseCurrency: ccy, UserID: userID})
	require.Equal(t, http.StatusCreated, w.Code)
	var p domain.Portfolio
	require.NoError(t, json.Unmarshal(data(t, w), &p))
	return p
}

func TestCreateAndGetPortfolio(t *testing.T) {
	r, _, _ := setup(t)

	p := createPortfolio(t, r, 1, "eur")
	assert.Positive(t, p.ID)
	assert.Equal(t, "EUR", p.BaseCurrency)

	w := do(r, http.MethodGet, "/portfolios/"+itoa(p.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Portfolio
	require.NoError(t, json.Unmarshal(data(t, w), &got))
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Main", got.Name)
}

func TestCreatePortfolio_DefaultsBaseCurrency(t *testing.T) {
	r, _, _ := setup(t)
	p := createPortfolio(t, r, 1, "")
	assert.Equal(t, "EUR", p.BaseCurrency)
}

func TestCreatePortfolio_RejectsMinorUnitBase(t *testing.T) {
	r, _, _ := setup(t)
	w := do(r, http.MethodPost, "/portfolios", CreatePortfolioRequest{Name: "UK", BaseCurrency: "GBp", UserID: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePortfolio_BadBody(t *testing.T) {
	r, _, _ := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/portfolios", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPortfolios_FiltersByUser(t *testing.T) {
	r, _, _ := setup(t)
	createPortfolio(t, r, 1, "EUR")
	createPortfolio(t, r, 2, "USD")
	createPortfolio(t, r, 2, "GBP")

	var all []domain.Portfolio
	require.NoError(t, json.Unmarshal(data(t, do(r, http.MethodGet, "/portfolios", nil)), &all))
	assert.Len(t, all, 3)

	var mine []domain.Portfolio
	require.NoError(t, json.Unmarshal(data(t, do(r, http.MethodGet, "/portfolios?user_id=2", nil)), &mine))
	assert.Len(t, mine, 2)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/portfolios?user_id=x", nil).Code)
}

func TestGetPortfolio_NotFound(t *testing.T) {
	r, _, _ := setup(t)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/portfolios/42", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/portfolios/zero", nil).Code)
}

func TestGetHoldings_HidesClosedByDefault(t *testing.T) {
	r, repo, _ := setup(t)
	p := createPortfolio(t, r, 1, "USD")
	ctx := context.Background()
	require.NoError(t, repo.Replace(ctx, domain.Holding{PortfolioID: p.ID, Symbol: "AAPL", Currency: "USD", Quantity: testhelpers.Dec("10")}))
	require.NoError(t, repo.Replace(ctx, domain.Holding{PortfolioID: p.ID, Symbol: "MSFT", Currency: "USD", Quantity: testhelpers.Dec("0")}))

	var open []domain.Holding
	require.NoError(t, json.Unmarshal(data(t, do(r, http.MethodGet, "/portfolios/"+itoa(p.ID)+"/holdings", nil)), &open))
	require.Len(t, open, 1)
	assert.Equal(t, "AAPL", open[0].Symbol)

	var all []domain.Holding
	require.NoError(t, json.Unmarshal(data(t, do(r, http.MethodGet, "/portfolios/"+itoa(p.ID)+"/holdings?include_closed=true", nil)), &all))
	assert.Len(t, all, 2)
}

func TestGetDaily_DefaultRangeAndSummary(t *testing.T) {
	r, _, series := setup(t)
	p := createPortfolio(t, r, 1, "USD")
	series.rows = []domain.DailyChange{
		{Key: domain.NewDailyChangeKey(p.ID, testhelpers.D("2024-06-28")), BaseCurrency: "USD", TotalValue: testhelpers.Dec("100"), NetFlow: testhelpers.Dec("100"), Delta: testhelpers.Dec("100")},
		{Key: domain.NewDailyChangeKey(p.ID, testhelpers.D("2024-06-29")), BaseCurrency: "USD", TotalValue: testhelpers.Dec("110"), MarketGain: testhelpers.Dec("10"), Delta: testhelpers.Dec("10")},
	}

	w := do(r, http.MethodGet, "/portfolios/"+itoa(p.ID)+"/daily", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp DailyResponse
	require.NoError(t, json.Unmarshal(data(t, w), &resp))
	assert.Len(t, resp.Rows, 2)
	assert.Equal(t, "2024-06-29", resp.Rows[1].Key.Date)
	assert.Equal(t, 2, resp.Summary.Days)
	assert.True(t, resp.Summary.MarketGain.Equal(testhelpers.Dec("10")))

	assert.Equal(t, testhelpers.D("2024-05-31"), series.from)
	assert.Equal(t, testhelpers.D("2024-06-30"), series.to)
}

func TestGetDaily_ValidatesRange(t *testing.T) {
	r, _, _ := setup(t)
	p := createPortfolio(t, r, 1, "USD")
	base := "/portfolios/" + itoa(p.ID) + "/daily"

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, base+"?from=2024-13-01", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, base+"?from=2024-06-10&to=2024-06-01", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, base+"?from=2024-06-01&to=2024-06-10", nil).Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
