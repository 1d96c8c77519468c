// Package eodhd provides an equity market data provider backed by the
// EODHD end-of-day API. It requires an API key.
package eodhd

import (
	"context"
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
const Name = "eodhd"

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://eodhd.com/api"

// exchangeCodes maps folio exchange suffixes to EODHD exchange codes where
// they differ.
var exchangeCodes = map[string]string{
	"L":  "LSE",
	"DE": "XETRA",
	"T":  "TSE",
	"AX": "AU",
	"TO": "TO",
	"PA": "PA",
	"AS": "AS",
}

// Client implements providers.Provider for equities.
type Client struct {
	baseURL string
	apiKey  string
	http    *clientutil.HTTPClient
	log     zerolog.Logger
	now     func() time.Time
}

// NewClient creates a new EODHD client. An empty apiKey yields a client that
// reports a configuration error on every call.
func NewClient(baseURL, apiKey string, timeout time.Duration, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: clientutil.New(clientutil.Config{
			Provider:       Name,
			Timeout:        timeout,
			RequestsPerSec: 10,
			Burst:          10,
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
			providers.OpQuote, providers.OpHistory, providers.OpDividends, providers.OpSplits,
		},
		Classes: []domain.AssetClass{domain.AssetEquity},
	}
}

// Ticker converts a folio symbol to the EODHD SYMBOL.EXCHANGE form.
// Symbols without an exchange suffix are US listings.
func Ticker(symbol string) string {
	symbol = strings.ToUpper(symbol)
	idx := strings.LastIndex(symbol, ".")
	if idx < 0 {
		return symbol + ".US"
	}
	code := symbol[idx+1:]
	if mapped, ok := exchangeCodes[code]; ok {
		code = mapped
	}
	return symbol[:idx] + "." + code
}

func (c *Client) checkConfigured() error {
	if c.apiKey == "" {
		return &domain.ProviderConfigError{Provider: Name, Reason: "missing API key"}
	}
	return nil
}

func (c *Client) endpoint(path, ticker string, extra url.Values) string {
	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("api_token", c.apiKey)
	for k, v := range extra {
		q[k] = v
	}
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, path, url.PathEscape(ticker), q.Encode())
}

func rangeQuery(rng providers.DateRange) url.Values {
	q := url.Values{}
	q.Set("from", domain.FormatDate(rng.From))
	q.Set("to", domain.FormatDate(rng.To))
	return q
}

// Exists is served by other providers; EODHD search costs API credits.
func (c *Client) Exists(ctx context.Context, inst providers.Instrument) (bool, error) {
	return false, domain.ErrUnsupported
}

// Quote returns the delayed real-time price.
func (c *Client) Quote(ctx context.Context, inst providers.Instrument) (*providers.Quote, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	ticker := Ticker(inst.Symbol)

	var resp struct {
		Code      string          `json:"code"`
		Timestamp int64           `json:"timestamp"`
		Close     decimal.Decimal `json:"close"`
	}
	u := c.endpoint("real-time", ticker, nil)
	if err := c.http.GetCachedJSON(ctx, clientdata.TableEODHD, "rt:"+ticker, clientdata.TTLQuote, u, &resp); err != nil {
		return nil, err
	}
	if resp.Close.IsZero() {
		return nil, fmt.Errorf("%s: no price for %s: %w", Name, ticker, domain.ErrNotFound)
	}
	// The real-time endpoint does not report a currency; callers fall back
	// to the security's registered currency.
	return &providers.Quote{Price: resp.Close, AsOf: time.Unix(resp.Timestamp, 0).UTC()}, nil
}

// History returns daily closes in range.
func (c *Client) History(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]domain.PricePoint, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	ticker := Ticker(inst.Symbol)

	var rows []struct {
		Date  string          `json:"date"`
		Close decimal.Decimal `json:"close"`
	}
	u := c.endpoint("eod", ticker, rangeQuery(rng))
	key := "eod:" + ticker + ":" + rng.String()
	if err := c.http.GetCachedJSON(ctx, clientdata.TableEODHD, key, clientdata.HistoryTTL(rng.To, c.now()), u, &rows); err != nil {
		return nil, err
	}

	points := make([]domain.PricePoint, 0, len(rows))
	for _, r := range rows {
		d, err := domain.ParseDate(r.Date)
		if err != nil {
			c.log.Warn().Str("date", r.Date).Str("ticker", ticker).Msg("Skipping malformed date in response")
			continue
		}
		points = append(points, domain.PricePoint{Date: d, Price: r.Close})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// Dividends returns dividends keyed by ex-date.
func (c *Client) Dividends(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.DividendEvent, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	ticker := Ticker(inst.Symbol)

	var rows []struct {
		Date     string          `json:"date"`
		Value    decimal.Decimal `json:"value"`
		Currency string          `json:"currency"`
	}
	u := c.endpoint("div", ticker, rangeQuery(rng))
	if err := c.http.GetCachedJSON(ctx, clientdata.TableEODHD, "div:"+ticker+":"+rng.String(), clientdata.TTLEvents, u, &rows); err != nil {
		return nil, err
	}

	events := make([]providers.DividendEvent, 0, len(rows))
	for _, r := range rows {
		d, err := domain.ParseDate(r.Date)
		if err != nil {
			continue
		}
		events = append(events, providers.DividendEvent{Date: d, Amount: r.Value, Currency: r.Currency})
	}
	return events, nil
}

// Splits returns share splits in range.
func (c *Client) Splits(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.SplitEvent, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	ticker := Ticker(inst.Symbol)

	var rows []struct {
		Date  string `json:"date"`
		Split string `json:"split"`
	}
	u := c.endpoint("splits", ticker, rangeQuery(rng))
	if err := c.http.GetCachedJSON(ctx, clientdata.TableEODHD, "splits:"+ticker+":"+rng.String(), clientdata.TTLEvents, u, &rows); err != nil {
		return nil, err
	}

	events := make([]providers.SplitEvent, 0, len(rows))
	for _, r := range rows {
		d, err := domain.ParseDate(r.Date)
		if err != nil {
			continue
		}
		num, den, err := parseSplit(r.Split)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", Name, ticker, err)
		}
		events = append(events, providers.SplitEvent{Date: d, Numerator: num, Denominator: den})
	}
	return events, nil
}

// parseSplit parses the "4.000000/1.000000" split notation.
func parseSplit(s string) (decimal.Decimal, decimal.Decimal, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid split format %q", s)
	}
	num, err := decimal.NewFromString(parts[0])
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid numerator in split %q: %w", s, err)
	}
	den, err := decimal.NewFromString(parts[1])
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid denominator in split %q: %w", s, err)
	}
	return num, den, nil
}
