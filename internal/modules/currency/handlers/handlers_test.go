package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConverter struct {
	mock.Mock
}

func (m *mockConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (*currency.Conversion, error) {
	args := m.Called(ctx, amount, from, to, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*currency.Conversion), args.Error(1)
}

func setup(t *testing.T) (*mockConverter, chi.Router) {
	t.Helper()
	conv := &mockConverter{}
	h := NewHandler(conv, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2024, 1, 6, 15, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	t.Cleanup(func() { conv.AssertExpectations(t) })
	return conv, r
}

func get(r chi.Router, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func amountIs(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func TestHandleConvert_WeekendFallback(t *testing.T) {
	conv, r := setup(t)
	saturday := domain.MustParseDate("2024-01-06")
	conv.On("Convert", mock.Anything, amountIs("100"), "USD", "EUR", saturday).Return(&currency.Conversion{
		From:          "USD",
		To:            "EUR",
		Rate:          decimal.RequireFromString("0.9"),
		Amount:        decimal.RequireFromString("90.0049"),
		RequestedDate: saturday,
		RateDate:      domain.MustParseDate("2024-01-05"),
		Source:        "exchangerate",
		Fallback:      true,
	}, nil)

	w := get(r, "/fx/convert?amount=100&from=USD&to=EUR&date=2024-01-06")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data     map[string]interface{} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "90", resp.Data["converted"])
	assert.Equal(t, "2024-01-05", resp.Data["rate_date"])
	assert.Equal(t, true, resp.Data["fallback"])
	assert.Contains(t, resp.Metadata, "timestamp")
}

func TestHandleConvert_Defaults(t *testing.T) {
	conv, r := setup(t)
	today := domain.MustParseDate("2024-01-06")
	conv.On("Convert", mock.Anything, amountIs("1"), "GBX", "GBP", today).Return(&currency.Conversion{
		From: "GBP", To: "GBP", Rate: decimal.RequireFromString("0.01"), Amount: decimal.RequireFromString("0.01"),
		RequestedDate: today, RateDate: today, Source: "identity",
	}, nil)

	assert.Equal(t, http.StatusOK, get(r, "/fx/convert?from=GBX&to=GBP").Code)
}

func TestHandleConvert_BadInput(t *testing.T) {
	_, r := setup(t)

	assert.Equal(t, http.StatusBadRequest, get(r, "/fx/convert?to=EUR").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/fx/convert?from=USD&to=EUR&amount=ten").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/fx/convert?from=USD&to=EUR&date=yesterday").Code)
}

func TestHandleConvert_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown currency", fmt.Errorf("%w %q", currency.ErrUnknownCurrency, "XYZ"), http.StatusBadRequest},
		{"no rate", &domain.NoRateAvailableError{From: "USD", To: "EUR", Lookback: 7}, http.StatusNotFound},
		{"provider failure", errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, r := setup(t)
			conv.On("Convert", mock.Anything, mock.Anything, "USD", "EUR", mock.Anything).Return(nil, tt.err)
			assert.Equal(t, tt.status, get(r, "/fx/convert?from=USD&to=EUR").Code)
		})
	}
}
