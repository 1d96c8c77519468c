package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Source fetches quotes and history. The provider chain satisfies it.
type Source interface {
	Quote(ctx context.Context, inst providers.Instrument) (*providers.Quote, string, error)
	History(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]domain.PricePoint, string, error)
}

// SecurityLookup resolves registered securities.
type SecurityLookup interface {
	GetSecurity(ctx context.Context, symbol string) (*domain.Security, error)
}

// Config configures the market data service.
type Config struct {
	// Freshness is how long a cached quote is served without refetching.
	Freshness time.Duration
	// LookbackDays bounds nearest-prior price searches.
	LookbackDays int
}

// Service serves latest quotes and daily history, fetching through the
// provider chain when the local cache cannot answer.
type Service struct {
	repo       *Repository
	source     Source
	securities SecurityLookup
	events     *events.Manager
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates a new market data service. eventManager may be nil.
func NewService(repo *Repository, source Source, securities SecurityLookup, eventManager *events.Manager, cfg Config, log zerolog.Logger) *Service {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 15 * time.Minute
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Service{
		repo:       repo,
		source:     source,
		securities: securities,
		events:     eventManager,
		cfg:        cfg,
		log:        log.With().Str("service", "market_data").Logger(),
		now:        time.Now,
	}
}

// SetClock overrides the clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// LookbackDays returns the configured nearest-prior window.
func (s *Service) LookbackDays() int {
	return s.cfg.LookbackDays
}

// listing describes how symbol is fetched and in which currency its prices
// are quoted.
type listing struct {
	inst     providers.Instrument
	currency string
}

func (s *Service) listing(ctx context.Context, symbol string) (listing, error) {
	l := listing{inst: providers.Equity(symbol)}
	if s.securities == nil {
		return l, nil
	}
	sec, err := s.securities.GetSecurity(ctx, symbol)
	if err != nil {
		return l, err
	}
	if sec != nil {
		l.currency = sec.Currency
		if sec.Market != "" {
			l.inst.Market = sec.Market
		}
	}
	return l, nil
}

// normalize converts a price quoted in code into its major currency.
func normalize(price decimal.Decimal, code string) (decimal.Decimal, string) {
	n, err := currency.Normalize(code)
	if err != nil {
		return price, code
	}
	return price.Mul(n.Factor), n.Code
}

// Latest returns the latest quote for symbol. A cached quote younger than
// the freshness window is returned as is unless force is set. When the chain
// fails the last cached quote is returned marked stale.
func (s *Service) Latest(ctx context.Context, symbol string, force bool) (*domain.MarketData, error) {
	cached, err := s.repo.GetLatest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if cached != nil && !force && cached.IsFresh(now, s.cfg.Freshness) {
		return cached, nil
	}

	l, err := s.listing(ctx, symbol)
	if err != nil {
		return nil, err
	}

	q, source, err := s.source.Quote(ctx, l.inst)
	if err != nil {
		if cached != nil && ctx.Err() == nil {
			s.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Time("updated_at", cached.UpdatedAt).
				Msg("Quote refresh failed, serving stale cache")
			cached.Stale = true
			s.emit(symbol, cached.Source, true)
			return cached, nil
		}
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}

	code := q.Currency
	if code == "" {
		code = l.currency
	}
	price, code := normalize(q.Price, code)

	md := domain.MarketData{
		Symbol:    symbol,
		Price:     price,
		Currency:  code,
		AsOf:      q.AsOf,
		Source:    source,
		UpdatedAt: now,
	}
	if md.AsOf.IsZero() {
		md.AsOf = now
	}
	if err := s.repo.UpsertLatest(ctx, md); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("symbol", symbol).
		Str("price", price.String()).
		Str("currency", code).
		Str("source", source).
		Msg("Refreshed quote")
	s.emit(symbol, source, false)
	return &md, nil
}

func (s *Service) emit(symbol, source string, stale bool) {
	if s.events == nil {
		return
	}
	s.events.Emit("marketdata", &events.MarketDataRefreshedData{Symbol: symbol, Source: source, Stale: stale})
}

// EnsureHistory makes sure daily prices for [from, to] are stored, plus the
// lookback window before from. Ranges already fetched are not refetched
// unless force is set; forced fetches overwrite stored prices.
func (s *Service) EnsureHistory(ctx context.Context, symbol string, from, to time.Time, force bool) error {
	today := domain.Day(s.now())
	to = domain.Day(to)
	if to.After(today) {
		to = today
	}
	from = domain.Day(from).AddDate(0, 0, -s.cfg.LookbackDays)
	if from.After(to) {
		return nil
	}

	cov, err := s.repo.GetCoverage(ctx, symbol)
	if err != nil {
		return err
	}
	if !force && cov.Covers(from, to) {
		return nil
	}

	fetchFrom := from
	if !force && cov != nil && !cov.From.After(from) && !cov.To.Before(from) {
		// Only the tail is missing.
		fetchFrom = cov.To
	}

	l, err := s.listing(ctx, symbol)
	if err != nil {
		return err
	}

	rng := providers.DateRange{From: fetchFrom, To: to}
	points, source, err := s.source.History(ctx, l.inst, rng)
	if err != nil {
		return fmt.Errorf("failed to fetch history for %s %s: %w", symbol, rng, err)
	}

	for i := range points {
		points[i].Date = domain.Day(points[i].Date)
		code := points[i].Currency
		if code == "" {
			code = l.currency
		}
		if code != "" {
			points[i].Price, points[i].Currency = normalize(points[i].Price, code)
		}
	}

	written, err := s.repo.InsertPrices(ctx, symbol, source, points, force)
	if err != nil {
		return err
	}

	// Today's close may not exist yet, so coverage stops at yesterday and
	// the next call refetches today.
	next := Coverage{From: fetchFrom, To: to}
	if cov != nil && !fetchFrom.After(cov.To.AddDate(0, 0, 1)) && !to.Before(cov.From.AddDate(0, 0, -1)) {
		if cov.From.Before(next.From) {
			next.From = cov.From
		}
		if cov.To.After(next.To) {
			next.To = cov.To
		}
	}
	if !next.To.Before(today) {
		next.To = today.AddDate(0, 0, -1)
	}
	if !next.To.Before(next.From) {
		if err := s.repo.SetCoverage(ctx, symbol, next, s.now()); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("range", rng.String()).
		Str("source", source).
		Int("fetched", len(points)).
		Int64("written", written).
		Msg("Stored price history")
	return nil
}

// PricesBetween returns stored daily prices in [from, to].
func (s *Service) PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	return s.repo.PricesBetween(ctx, symbol, from, to)
}

// PriceOn returns the price on date or the nearest prior stored price within
// the lookback window, or nil.
func (s *Service) PriceOn(ctx context.Context, symbol string, date time.Time) (*domain.PricePoint, error) {
	date = domain.Day(date)
	return s.repo.PriceOnOrBefore(ctx, symbol, date, date.AddDate(0, 0, -s.cfg.LookbackDays))
}
