package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/aristath/folio/internal/modules/portfolio"
	testhelpers "github.com/aristath/folio/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router      chi.Router
	changes     []*events.TransactionChangedData
	portfolioID int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testhelpers.NewFolioDB(t)
	log := zerolog.Nop()
	f := &fixture{portfolioID: testhelpers.SeedPortfolio(t, db, "main", "EUR")}

	bus := events.NewBus(log)
	bus.Subscribe(events.TransactionChanged, func(e events.Event) {
		f.changes = append(f.changes, e.Data.(*events.TransactionChangedData))
	})
	svc := ledger.NewService(db.Conn(),
		ledger.NewSecurityRepository(db.Conn(), log),
		ledger.NewTransactionRepository(db.Conn(), log),
		ledger.NewDividendRepository(db.Conn(), log),
		portfolio.NewRepository(db.Conn(), log),
		events.NewManager(bus, log), log)
	svc.SetClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) })

	f.router = chi.NewRouter()
	NewHandler(svc, log).RegisterRoutes(f.router)
	return f
}

func (f *fixture) path(suffix string) string {
	return "/portfolios/" + strconv.FormatInt(f.portfolioID, 10) + suffix
}

func (f *fixture) do(method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, target, &buf))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

func buy(symbol, qty, price, ccy, date string) TransactionRequest {
	return TransactionRequest{
		TradeDate: date,
		Type:      domain.TransactionBuy,
		Symbol:    symbol,
		Currency:  ccy,
		Quantity:  testhelpers.Dec(qty),
		Price:     testhelpers.Dec(price),
	}
}

func TestCreateTransaction(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, f.path("/transactions"), buy("aapl", "10", "150", "USD", "2024-01-15"))
	require.Equal(t, http.StatusCreated, w.Code)

	var tx domain.Transaction
	decode(t, w, &tx)
	assert.Positive(t, tx.ID)
	assert.Equal(t, "AAPL", tx.Symbol)
	assert.True(t, tx.Price.Equal(testhelpers.Dec("150")))

	require.Len(t, f.changes, 1)
	assert.Equal(t, events.MutationCreated, f.changes[0].Kind)
}

func TestCreateTransaction_MinorUnitPriceIsNormalized(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, f.path("/transactions"), buy("VOD.L", "100", "7250", "GBp", "2024-01-15"))
	require.Equal(t, http.StatusCreated, w.Code)

	var tx domain.Transaction
	decode(t, w, &tx)
	assert.Equal(t, "GBP", tx.Currency)
	assert.True(t, tx.Price.Equal(testhelpers.Dec("72.5")))
}

func TestCreateTransaction_ValidationErrors(t *testing.T) {
	f := setup(t)

	future := buy("AAPL", "1", "1", "USD", "2030-01-01")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, f.path("/transactions"), future).Code)

	badDate := buy("AAPL", "1", "1", "USD", "15/01/2024")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, f.path("/transactions"), badDate).Code)

	badType := buy("AAPL", "1", "1", "USD", "2024-01-15")
	badType.Type = "gift"
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, f.path("/transactions"), badType).Code)

	assert.Empty(t, f.changes)
}

func TestCreateTransaction_UnknownPortfolio(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodPost, "/portfolios/999/transactions", buy("AAPL", "1", "1", "USD", "2024-01-15"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAmendTransaction_ReplacesUnderNewID(t *testing.T) {
	f := setup(t)
	var orig domain.Transaction
	decode(t, f.do(http.MethodPost, f.path("/transactions"), buy("AAPL", "10", "150", "USD", "2024-02-01")), &orig)

	w := f.do(http.MethodPut, f.path("/transactions/"+strconv.FormatInt(orig.ID, 10)), buy("AAPL", "12", "150", "USD", "2024-01-20"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ReplacedID  int64              `json:"replaced_id"`
		Transaction domain.Transaction `json:"transaction"`
	}
	decode(t, w, &resp)
	assert.Equal(t, orig.ID, resp.ReplacedID)
	assert.NotEqual(t, orig.ID, resp.Transaction.ID)

	require.Len(t, f.changes, 2)
	assert.Equal(t, events.MutationAmended, f.changes[1].Kind)
	assert.Equal(t, testhelpers.D("2024-01-20"), f.changes[1].EarliestDate)
}

func TestDeleteTransaction(t *testing.T) {
	f := setup(t)
	var orig domain.Transaction
	decode(t, f.do(http.MethodPost, f.path("/transactions"), buy("AAPL", "10", "150", "USD", "2024-02-01")), &orig)

	id := strconv.FormatInt(orig.ID, 10)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, f.path("/transactions/"+id), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, f.path("/transactions/"+id), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, f.path("/transactions/x"), nil).Code)
}

func TestDividends(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, f.path("/dividends"), DividendRequest{
		PayDate: "2024-03-15", Symbol: "AAPL", Currency: "USD", Amount: testhelpers.Dec("2.40"),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var d domain.Dividend
	decode(t, w, &d)
	assert.Positive(t, d.ID)

	neg := DividendRequest{PayDate: "2024-03-15", Symbol: "AAPL", Currency: "USD", Amount: testhelpers.Dec("-1")}
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, f.path("/dividends"), neg).Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, f.path("/dividends/"+strconv.FormatInt(d.ID, 10)), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, f.path("/dividends/"+strconv.FormatInt(d.ID, 10)), nil).Code)
}

var _ LedgerService = (*ledger.Service)(nil)
