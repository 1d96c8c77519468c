// Package yahoo provides an equity and currency market data provider backed
// by the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/clients/clientutil"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Name is the provider name used in configuration.
const Name = "yahoo"

// DefaultBaseURL is the public chart endpoint.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// Client implements providers.Provider over the chart API.
type Client struct {
	baseURL string
	http    *clientutil.HTTPClient
	log     zerolog.Logger
	now     func() time.Time
}

// NewClient creates a new Yahoo chart client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL string, timeout time.Duration, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http: clientutil.New(clientutil.Config{
			Provider:       Name,
			Timeout:        timeout,
			RequestsPerSec: 2,
			Burst:          4,
		}, cacheRepo, log),
		log: log.With().Str("client", Name).Logger(),
		now: time.Now,
	}
}

// Name implements providers.Provider.
func (c *Client) Name() string { return Name }

// Capabilities implements providers.Provider.
func (c *Client) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Operations: []providers.Operation{
			providers.OpExists, providers.OpQuote, providers.OpHistory,
			providers.OpDividends, providers.OpSplits,
		},
		Classes: []domain.AssetClass{domain.AssetEquity, domain.AssetCurrency},
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency           string          `json:"currency"`
		Symbol             string          `json:"symbol"`
		RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
		RegularMarketTime  int64           `json:"regularMarketTime"`
		GMTOffset          int64           `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []decimal.NullDecimal `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
	Events struct {
		Dividends map[string]struct {
			Amount decimal.Decimal `json:"amount"`
			Date   int64           `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64           `json:"date"`
			Numerator   decimal.Decimal `json:"numerator"`
			Denominator decimal.Decimal `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
}

// Ticker returns the Yahoo ticker for an instrument. Currency pairs use the
// BASEQUOTE=X convention.
func Ticker(inst providers.Instrument) string {
	if inst.Class == domain.AssetCurrency {
		return inst.Base + inst.Quote + "=X"
	}
	return strings.ToUpper(inst.Symbol)
}

func (c *Client) chart(ctx context.Context, inst providers.Instrument, rng *providers.DateRange) (*chartResult, error) {
	ticker := Ticker(inst)
	q := url.Values{}
	q.Set("interval", "1d")
	key := ticker + ":latest"
	ttl := clientdata.TTLQuote
	if rng != nil {
		q.Set("period1", fmt.Sprint(rng.From.Unix()))
		// period2 is exclusive
		q.Set("period2", fmt.Sprint(rng.To.AddDate(0, 0, 1).Unix()))
		q.Set("events", "div,split")
		key = ticker + ":" + rng.String()
		ttl = clientdata.HistoryTTL(rng.To, c.now())
	} else {
		q.Set("range", "5d")
	}
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(ticker), q.Encode())

	var resp chartResponse
	if err := c.http.GetCachedJSON(ctx, clientdata.TableYahooChart, key, ttl, u, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return nil, fmt.Errorf("%s: %s: %w", Name, ticker, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %s: %s", Name, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%s: %s: %w", Name, ticker, domain.ErrNotFound)
	}
	return &resp.Chart.Result[0], nil
}

// localDay converts an exchange timestamp to its trading calendar date.
func localDay(ts, gmtOffset int64) time.Time {
	return domain.Day(time.Unix(ts+gmtOffset, 0).UTC())
}

// Exists reports whether Yahoo has a chart for the instrument.
func (c *Client) Exists(ctx context.Context, inst providers.Instrument) (bool, error) {
	_, err := c.chart(ctx, inst, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Quote returns the regular market price.
func (c *Client) Quote(ctx context.Context, inst providers.Instrument) (*providers.Quote, error) {
	res, err := c.chart(ctx, inst, nil)
	if err != nil {
		return nil, err
	}
	if res.Meta.RegularMarketPrice.IsZero() {
		return nil, fmt.Errorf("%s: no price for %s: %w", Name, inst.Symbol, domain.ErrNotFound)
	}
	return &providers.Quote{
		Price:    res.Meta.RegularMarketPrice,
		Currency: res.Meta.Currency,
		AsOf:     time.Unix(res.Meta.RegularMarketTime, 0).UTC(),
	}, nil
}

// History returns daily closes in range, skipping days without a close.
func (c *Client) History(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]domain.PricePoint, error) {
	res, err := c.chart(ctx, inst, &rng)
	if err != nil {
		return nil, err
	}
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	closes := res.Indicators.Quote[0].Close

	points := make([]domain.PricePoint, 0, len(res.Timestamp))
	seen := make(map[time.Time]bool, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(closes) || !closes[i].Valid {
			continue
		}
		day := localDay(ts, res.Meta.GMTOffset)
		if day.Before(rng.From) || day.After(rng.To) || seen[day] {
			continue
		}
		seen[day] = true
		points = append(points, domain.PricePoint{Date: day, Price: closes[i].Decimal, Currency: res.Meta.Currency})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// Dividends returns per-share dividends in range.
func (c *Client) Dividends(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.DividendEvent, error) {
	if inst.Class != domain.AssetEquity {
		return nil, domain.ErrUnsupported
	}
	res, err := c.chart(ctx, inst, &rng)
	if err != nil {
		return nil, err
	}
	events := make([]providers.DividendEvent, 0, len(res.Events.Dividends))
	for _, d := range res.Events.Dividends {
		events = append(events, providers.DividendEvent{
			Date:     localDay(d.Date, res.Meta.GMTOffset),
			Amount:   d.Amount,
			Currency: res.Meta.Currency,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}

// Splits returns share splits in range.
func (c *Client) Splits(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.SplitEvent, error) {
	if inst.Class != domain.AssetEquity {
		return nil, domain.ErrUnsupported
	}
	res, err := c.chart(ctx, inst, &rng)
	if err != nil {
		return nil, err
	}
	events := make([]providers.SplitEvent, 0, len(res.Events.Splits))
	for _, s := range res.Events.Splits {
		events = append(events, providers.SplitEvent{
			Date:        localDay(s.Date, res.Meta.GMTOffset),
			Numerator:   s.Numerator,
			Denominator: s.Denominator,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}
