// Package exchangerate provides a currency-only market data provider backed
// by ECB reference rates served through a Frankfurter-compatible API.
package exchangerate

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/clients/clientutil"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Name is the provider name used in configuration.
const Name = "exchangerate"

// DefaultBaseURL is the public Frankfurter endpoint.
const DefaultBaseURL = "https://api.frankfurter.app"

// Client implements providers.Provider for currency pairs.
type Client struct {
	baseURL string
	http    *clientutil.HTTPClient
	log     zerolog.Logger
	now     func() time.Time
}

// NewClient creates a new exchange rate client.
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
			RequestsPerSec: 5,
			Burst:          5,
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
		Operations: []providers.Operation{providers.OpExists, providers.OpQuote, providers.OpHistory},
		Classes:    []domain.AssetClass{domain.AssetCurrency},
	}
}

// ratesResponse is the single-date payload.
type ratesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// seriesResponse is the date-range payload.
type seriesResponse struct {
	Base  string                                `json:"base"`
	Rates map[string]map[string]decimal.Decimal `json:"rates"`
}

// Exists reports whether both currencies of the pair are published.
func (c *Client) Exists(ctx context.Context, inst providers.Instrument) (bool, error) {
	if inst.Class != domain.AssetCurrency {
		return false, domain.ErrUnsupported
	}
	var currencies map[string]string
	err := c.http.GetCachedJSON(ctx, clientdata.TableExchangeRate, "currencies", clientdata.TTLExists,
		c.baseURL+"/currencies", &currencies)
	if err != nil {
		return false, err
	}
	_, okBase := currencies[inst.Base]
	_, okQuote := currencies[inst.Quote]
	return okBase && okQuote, nil
}

// Quote returns the latest published reference rate.
func (c *Client) Quote(ctx context.Context, inst providers.Instrument) (*providers.Quote, error) {
	if inst.Class != domain.AssetCurrency {
		return nil, domain.ErrUnsupported
	}

	var resp ratesResponse
	u := fmt.Sprintf("%s/latest?%s", c.baseURL, pairQuery(inst))
	key := "latest:" + inst.Symbol
	if err := c.http.GetCachedJSON(ctx, clientdata.TableExchangeRate, key, clientdata.TTLQuote, u, &resp); err != nil {
		return nil, err
	}

	rate, ok := resp.Rates[inst.Quote]
	if !ok {
		return nil, fmt.Errorf("%s: rate not found for %s: %w", Name, inst.Symbol, domain.ErrNotFound)
	}
	asOf, err := domain.ParseDate(resp.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}

	return &providers.Quote{Price: rate, Currency: inst.Quote, AsOf: asOf}, nil
}

// History returns one rate per publication day in range.
func (c *Client) History(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]domain.PricePoint, error) {
	if inst.Class != domain.AssetCurrency {
		return nil, domain.ErrUnsupported
	}

	var resp seriesResponse
	u := fmt.Sprintf("%s/%s..%s?%s", c.baseURL, domain.FormatDate(rng.From), domain.FormatDate(rng.To), pairQuery(inst))
	key := fmt.Sprintf("history:%s:%s", inst.Symbol, rng)
	ttl := clientdata.HistoryTTL(rng.To, c.now())
	if err := c.http.GetCachedJSON(ctx, clientdata.TableExchangeRate, key, ttl, u, &resp); err != nil {
		return nil, err
	}

	points := make([]domain.PricePoint, 0, len(resp.Rates))
	for day, rates := range resp.Rates {
		rate, ok := rates[inst.Quote]
		if !ok {
			continue
		}
		d, err := domain.ParseDate(day)
		if err != nil {
			c.log.Warn().Str("date", day).Msg("Skipping malformed date in response")
			continue
		}
		// The API snaps the range start to the previous publication day.
		if d.Before(rng.From) || d.After(rng.To) {
			continue
		}
		points = append(points, domain.PricePoint{Date: d, Price: rate})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	c.log.Debug().
		Str("pair", inst.Symbol).
		Str("range", rng.String()).
		Int("points", len(points)).
		Msg("Fetched rate history")

	return points, nil
}

// Dividends is not supported for currencies.
func (c *Client) Dividends(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.DividendEvent, error) {
	return nil, domain.ErrUnsupported
}

// Splits is not supported for currencies.
func (c *Client) Splits(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.SplitEvent, error) {
	return nil, domain.ErrUnsupported
}

func pairQuery(inst providers.Instrument) string {
	q := url.Values{}
	q.Set("from", inst.Base)
	q.Set("to", inst.Quote)
	return q.Encode()
}
