package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-02 14:30 UTC and 2024-01-03 14:30 UTC, with a null close on the 4th.
const chartBody = `{"chart":{"result":[{
	"meta":{"currency":"USD","symbol":"AAPL","regularMarketPrice":185.64,"regularMarketTime":1704310200,"gmtoffset":-18000},
	"timestamp":[1704205800,1704292200,1704378600],
	"indicators":{"quote":[{"close":[185.64,184.25,null]}]},
	"events":{
		"dividends":{"1704205800":{"amount":0.24,"date":1704205800}},
		"splits":{"1704292200":{"date":1704292200,"numerator":4,"denominator":1}}
	}
}],"error":null}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second, nil, zerolog.Nop())
}

func TestClient_History(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(chartBody))
	})

	rng := providers.DateRange{From: domain.MustParseDate("2024-01-01"), To: domain.MustParseDate("2024-01-05")}
	pts, err := c.History(context.Background(), providers.Equity("AAPL"), rng)
	require.NoError(t, err)

	require.Len(t, pts, 2)
	assert.Equal(t, "2024-01-02", domain.FormatDate(pts[0].Date))
	assert.Equal(t, "USD", pts[0].Currency)
	assert.True(t, decimal.RequireFromString("184.25").Equal(pts[1].Price))
}

func TestClient_Quote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chartBody))
	})

	q, err := c.Quote(context.Background(), providers.Equity("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "USD", q.Currency)
	assert.True(t, decimal.RequireFromString("185.64").Equal(q.Price))
}

func TestClient_Events(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chartBody))
	})
	rng := providers.DateRange{From: domain.MustParseDate("2024-01-01"), To: domain.MustParseDate("2024-01-05")}

	divs, err := c.Dividends(context.Background(), providers.Equity("AAPL"), rng)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.True(t, decimal.RequireFromString("0.24").Equal(divs[0].Amount))

	splits, err := c.Splits(context.Background(), providers.Equity("AAPL"), rng)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.True(t, decimal.NewFromInt(4).Equal(splits[0].Ratio()))
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})

	ok, err := c.Exists(context.Background(), providers.Equity("NOPE"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Quote(context.Background(), providers.Equity("NOPE"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTicker(t *testing.T) {
	assert.Equal(t, "EURUSD=X", Ticker(providers.CurrencyPair("EUR", "USD")))
	assert.Equal(t, "VOD.L", Ticker(providers.Equity("vod.l")))
}
