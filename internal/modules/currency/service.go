package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// DefaultLookbackDays bounds the backward search for a prior rate.
const DefaultLookbackDays = 7

// HistorySource supplies historic rates for a currency pair. The provider
// chain satisfies it.
type HistorySource interface {
	History(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]domain.PricePoint, string, error)
}

// Conversion is the result of converting an amount on a date.
type Conversion struct {
	RequestedDate time.Time       `json:"requested_date"`
	RateDate      time.Time       `json:"rate_date"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Source        string          `json:"source"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	// Fallback is set when the rate comes from an earlier date than requested.
	Fallback bool `json:"fallback"`
}

// Service converts amounts between currencies using cached historic rates,
// backfilling gaps from the provider chain.
type Service struct {
	repo     *RateRepository
	source   HistorySource
	lookback int
	group    singleflight.Group
	log      zerolog.Logger
}

// NewService creates a new FX conversion service.
func NewService(repo *RateRepository, source HistorySource, lookbackDays int, log zerolog.Logger) *Service {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Service{
		repo:     repo,
		source:   source,
		lookback: lookbackDays,
		log:      log.With().Str("service", "fx_conversion").Logger(),
	}
}

// LookbackDays returns the configured backward search window.
func (s *Service) LookbackDays() int {
	return s.lookback
}

// Convert converts amount from one currency to another on date.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (*Conversion, error) {
	conv, err := s.Rate(ctx, from, to, date)
	if err != nil {
		return nil, err
	}
	conv.Amount = amount.Mul(conv.Rate)
	return conv, nil
}

// Rate resolves the rate that converts one unit of from into to on date.
// Minor-unit aliases are folded into the rate.
func (s *Service) Rate(ctx context.Context, from, to string, date time.Time) (*Conversion, error) {
	date = domain.Day(date)
	nf, err := Normalize(from)
	if err != nil {
		return nil, err
	}
	nt, err := Normalize(to)
	if err != nil {
		return nil, err
	}
	factor := nf.Factor.Div(nt.Factor)

	conv := &Conversion{
		RequestedDate: date,
		RateDate:      date,
		From:          nf.Code,
		To:            nt.Code,
		Rate:          factor,
	}

	if nf.Code == nt.Code {
		conv.Source = "identity"
		return conv, nil
	}

	rate, err := s.lookup(ctx, nf.Code, nt.Code, date)
	if err != nil {
		return nil, err
	}

	if rate == nil {
		fetchErr := s.backfill(ctx, nf.Code, nt.Code, date)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rate, err = s.lookup(ctx, nf.Code, nt.Code, date)
		if err != nil {
			return nil, err
		}
		if rate == nil {
			return nil, &domain.NoRateAvailableError{
				From:     nf.Code,
				To:       nt.Code,
				Date:     date,
				Lookback: s.lookback,
				Cause:    fetchErr,
			}
		}
	}

	conv.Rate = rate.Rate.Mul(factor)
	conv.RateDate = rate.Date
	conv.Source = rate.Source
	conv.Fallback = !rate.Date.Equal(date)

	if conv.Fallback {
		s.log.Debug().
			Str("pair", nf.Code+"/"+nt.Code).
			Str("requested", domain.FormatDate(date)).
			Str("used", domain.FormatDate(rate.Date)).
			Msg("Using nearest prior rate")
	}
	return conv, nil
}

// lookup finds the nearest cached rate within the lookback window, trying
// the inverse pair as well. The more recent of the two wins; ties go to the
// direct pair.
func (s *Service) lookup(ctx context.Context, from, to string, date time.Time) (*domain.CurrencyRate, error) {
	direct, err := s.repo.FindNearest(ctx, from, to, date, s.lookback)
	if err != nil {
		return nil, err
	}
	inverse, err := s.repo.FindNearest(ctx, to, from, date, s.lookback)
	if err != nil {
		return nil, err
	}

	if inverse == nil || (direct != nil && !inverse.Date.After(direct.Date)) {
		return direct, nil
	}
	return &domain.CurrencyRate{
		From:   from,
		To:     to,
		Date:   inverse.Date,
		Rate:   decimal.NewFromInt(1).Div(inverse.Rate),
		Source: inverse.Source,
	}, nil
}

// backfill fetches the lookback window ending on date and stores every rate
// returned. Concurrent requests for the same pair and date share one fetch.
func (s *Service) backfill(ctx context.Context, from, to string, date time.Time) error {
	key := fmt.Sprintf("%s/%s@%s", from, to, domain.FormatDate(date))
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.fetch(ctx, from, to, providers.DateRange{From: date.AddDate(0, 0, -s.lookback), To: date})
	})
	return err
}

// Refresh fetches rates for the lookback window ending on date even when
// cached rates exist in it. Already-recorded dates are not overwritten.
func (s *Service) Refresh(ctx context.Context, from, to string, date time.Time) (int64, error) {
	nf, err := Normalize(from)
	if err != nil {
		return 0, err
	}
	nt, err := Normalize(to)
	if err != nil {
		return 0, err
	}
	if nf.Code == nt.Code {
		return 0, nil
	}
	date = domain.Day(date)
	existing, err := s.repo.Get(ctx, nf.Code, nt.Code, date)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, nil
	}
	n, err := s.fetch(ctx, nf.Code, nt.Code, providers.DateRange{From: date.AddDate(0, 0, -s.lookback), To: date})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Prefetch fills the cache for [start, end] with a single provider request
// when the cached rates do not reach both ends of the range. Gaps inside the
// range are left to on-demand backfill.
func (s *Service) Prefetch(ctx context.Context, from, to string, start, end time.Time) error {
	nf, err := Normalize(from)
	if err != nil {
		return err
	}
	nt, err := Normalize(to)
	if err != nil {
		return err
	}
	if nf.Code == nt.Code {
		return nil
	}
	start, end = domain.Day(start), domain.Day(end)

	first, err := s.lookup(ctx, nf.Code, nt.Code, start)
	if err != nil {
		return err
	}
	last, err := s.lookup(ctx, nf.Code, nt.Code, end)
	if err != nil {
		return err
	}
	if first != nil && last != nil {
		return nil
	}

	key := fmt.Sprintf("%s/%s@%s..%s", nf.Code, nt.Code, domain.FormatDate(start), domain.FormatDate(end))
	_, err, _ = s.group.Do(key, func() (interface{}, error) {
		return s.fetch(ctx, nf.Code, nt.Code, providers.DateRange{From: start.AddDate(0, 0, -s.lookback), To: end})
	})
	return err
}

func (s *Service) fetch(ctx context.Context, from, to string, rng providers.DateRange) (int64, error) {
	if s.source == nil {
		return 0, fmt.Errorf("no rate source configured")
	}
	points, source, err := s.source.History(ctx, providers.CurrencyPair(from, to), rng)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("pair", from+"/"+to).
			Str("range", rng.String()).
			Msg("Failed to backfill rates")
		return 0, err
	}

	rates := make([]domain.CurrencyRate, 0, len(points))
	for _, p := range points {
		rates = append(rates, domain.CurrencyRate{From: from, To: to, Date: domain.Day(p.Date), Rate: p.Price, Source: source})
	}
	inserted, err := s.repo.InsertBatch(ctx, rates)
	if err != nil {
		return 0, err
	}

	s.log.Info().
		Str("pair", from+"/"+to).
		Str("range", rng.String()).
		Str("source", source).
		Int("fetched", len(points)).
		Int64("inserted", inserted).
		Msg("Backfilled rates")
	return inserted, nil
}
