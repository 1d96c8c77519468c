package valuation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reasons recorded on degraded contributions.
const (
	// ReasonStalePrice: the latest known price is older than the lookback window.
	ReasonStalePrice = "stale_price"
	// ReasonNoPrice: no stored price at all; the last trade price is used, or zero.
	ReasonNoPrice = "no_price"
	// ReasonFXFallback: no rate within the lookback window; the last rate seen
	// earlier in the rebuild is used.
	ReasonFXFallback = "fx_fallback"
	// ReasonNoFX: no rate at all; the position is excluded from the total.
	ReasonNoFX = "no_fx"
)

// PortfolioLookup resolves portfolios.
type PortfolioLookup interface {
	Get(ctx context.Context, id int64) (*domain.Portfolio, error)
}

// TransactionSource lists a portfolio's transactions in replay order.
type TransactionSource interface {
	ListForPortfolio(ctx context.Context, portfolioID int64) ([]domain.Transaction, error)
}

// HoldingLookup lists reconciled holdings.
type HoldingLookup interface {
	List(ctx context.Context, portfolioID int64, includeClosed bool) ([]domain.Holding, error)
}

// PriceSource serves daily price history.
type PriceSource interface {
	EnsureHistory(ctx context.Context, symbol string, from, to time.Time, force bool) error
	PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error)
}

// RateSource serves FX rates.
type RateSource interface {
	Rate(ctx context.Context, from, to string, date time.Time) (*currency.Conversion, error)
	Prefetch(ctx context.Context, from, to string, start, end time.Time) error
}

// Guard reports the latest requested rebuild generation of a portfolio.
type Guard interface {
	Current(portfolioID int64) int64
}

// Config configures the rebuilder.
type Config struct {
	// BatchDays is the number of rows written per database transaction.
	BatchDays int
	// LookbackDays is how old a price may be before it counts as stale.
	LookbackDays int
}

// Report summarizes a completed rebuild.
type Report struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	PortfolioID  int64     `json:"portfolio_id"`
	Generation   int64     `json:"generation"`
	Rows         int       `json:"rows"`
	DegradedDays int       `json:"degraded_days"`
	Pruned       int64     `json:"pruned"`
}

// Rebuilder regenerates the daily valuation series of a portfolio from its
// transaction log, stored prices and FX rates.
type Rebuilder struct {
	db           *sql.DB
	repo         *Repository
	portfolios   PortfolioLookup
	transactions TransactionSource
	holdings     HoldingLookup
	prices       PriceSource
	fx           RateSource
	guard        Guard
	cfg          Config
	log          zerolog.Logger
	now          func() time.Time
}

// NewRebuilder creates a new valuation rebuilder. guard may be nil, in which
// case writes are never considered stale.
func NewRebuilder(
	db *sql.DB,
	repo *Repository,
	portfolios PortfolioLookup,
	transactions TransactionSource,
	holdings HoldingLookup,
	prices PriceSource,
	fx RateSource,
	guard Guard,
	cfg Config,
	log zerolog.Logger,
) *Rebuilder {
	if cfg.BatchDays <= 0 {
		cfg.BatchDays = 31
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Rebuilder{
		db:           db,
		repo:         repo,
		portfolios:   portfolios,
		transactions: transactions,
		holdings:     holdings,
		prices:       prices,
		fx:           fx,
		guard:        guard,
		cfg:          cfg,
		log:          log.With().Str("service", "valuation_rebuilder").Logger(),
		now:          time.Now,
	}
}

// SetClock overrides the clock. Used by tests.
func (r *Rebuilder) SetClock(now func() time.Time) {
	r.now = now
}

// SetGuard sets the generation guard.
func (r *Rebuilder) SetGuard(g Guard) {
	r.guard = g
}

func (r *Rebuilder) checkGeneration(portfolioID, generation int64) error {
	if r.guard == nil {
		return nil
	}
	if r.guard.Current(portfolioID) != generation {
		return &domain.StaleWriteError{PortfolioID: portfolioID, Generation: generation}
	}
	return nil
}

// guarded runs fn in a database transaction after confirming generation is
// still current.
func (r *Rebuilder) guarded(ctx context.Context, portfolioID, generation int64, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.checkGeneration(portfolioID, generation); err != nil {
			return err
		}
		return fn(tx)
	})
}

// rateMark is a rate remembered for fallback.
type rateMark struct {
	rate decimal.Decimal
	date string
}

// fxResult is the rate resolved for one currency on one day.
type fxResult struct {
	rate   decimal.Decimal
	date   string
	reason string
	ok     bool
}

// run is the state of one rebuild.
type run struct {
	portfolio *domain.Portfolio
	native    map[string]string
	prices    map[string][]domain.PricePoint
	cursor    map[string]int
	quantity  map[string]decimal.Decimal
	lastTrade map[string]decimal.Decimal
	lastRate  map[string]rateMark
	dayRates  map[string]fxResult
}

// Rebuild regenerates rows for every calendar day from the first trade date,
// or from when it is later and the row before it exists, through today.
// Rows outside [first trade date, today] are removed. Missing prices or
// rates degrade the affected days instead of failing the rebuild.
//
// Each batch is written only while generation is still current; otherwise
// StaleWriteError is returned and later batches are not written.
func (r *Rebuilder) Rebuild(ctx context.Context, portfolioID int64, from *time.Time, generation int64) (*Report, error) {
	p, err := r.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrNotFound)
	}

	txs, err := r.transactions.ListForPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	today := domain.Day(r.now())
	report := &Report{PortfolioID: portfolioID, Generation: generation}

	if len(txs) == 0 {
		err := r.guarded(ctx, portfolioID, generation, func(tx *sql.Tx) error {
			n, err := deleteAll(ctx, tx, portfolioID)
			report.Pruned = n
			return err
		})
		if err != nil {
			return nil, err
		}
		r.log.Info().Int64("portfolio_id", portfolioID).Int64("pruned", report.Pruned).Msg("Cleared valuation of empty portfolio")
		return report, nil
	}

	first := txs[0].TradeDate
	start := first
	prevTotal := decimal.Zero
	var prev *domain.DailyChange
	if from != nil && domain.Day(*from).After(first) {
		resume := domain.Day(*from)
		if resume.After(today) {
			resume = today
		}
		prev, err = r.repo.Get(ctx, domain.NewDailyChangeKey(portfolioID, resume.AddDate(0, 0, -1)))
		if err != nil {
			return nil, err
		}
		if prev != nil {
			start = resume
			prevTotal = prev.TotalValue
		} else {
			r.log.Debug().
				Int64("portfolio_id", portfolioID).
				Str("from", domain.FormatDate(resume)).
				Msg("No row before resume date, rebuilding from first trade")
		}
	}
	report.From, report.To = start, today

	st, err := r.prepare(ctx, p, txs, start, today)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		st.seedRates(prev)
	}

	i := 0
	for ; i < len(txs) && txs[i].TradeDate.Before(start); i++ {
		st.apply(txs[i])
	}

	batch := make([]domain.DailyChange, 0, r.cfg.BatchDays)
	for day := start; !day.After(today); day = day.AddDate(0, 0, 1) {
		var traded []domain.Transaction
		for ; i < len(txs) && !txs[i].TradeDate.After(day); i++ {
			st.apply(txs[i])
			traded = append(traded, txs[i])
		}

		row, err := r.valueDay(ctx, st, day, traded, prevTotal)
		if err != nil {
			return nil, err
		}
		row.Generation = generation
		prevTotal = row.TotalValue
		if row.Degraded {
			report.DegradedDays++
		}
		batch = append(batch, *row)

		if len(batch) == r.cfg.BatchDays {
			if err := r.flush(ctx, portfolioID, generation, batch); err != nil {
				return nil, err
			}
			report.Rows += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := r.flush(ctx, portfolioID, generation, batch); err != nil {
			return nil, err
		}
		report.Rows += len(batch)
	}

	err = r.guarded(ctx, portfolioID, generation, func(tx *sql.Tx) error {
		n, err := deleteOutside(ctx, tx, portfolioID, first, today)
		report.Pruned = n
		return err
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int64("portfolio_id", portfolioID).
		Int64("generation", generation).
		Str("from", domain.FormatDate(report.From)).
		Str("to", domain.FormatDate(report.To)).
		Int("rows", report.Rows).
		Int("degraded_days", report.DegradedDays).
		Int64("pruned", report.Pruned).
		Msg("Rebuilt valuation")
	return report, nil
}

func (r *Rebuilder) flush(ctx context.Context, portfolioID, generation int64, rows []domain.DailyChange) error {
	now := r.now()
	return r.guarded(ctx, portfolioID, generation, func(tx *sql.Tx) error {
		return upsertRows(ctx, tx, rows, now)
	})
}

// prepare resolves native currencies and loads price history and FX rates
// for the rebuild range.
func (r *Rebuilder) prepare(ctx context.Context, p *domain.Portfolio, txs []domain.Transaction, start, today time.Time) (*run, error) {
	st := &run{
		portfolio: p,
		native:    make(map[string]string),
		prices:    make(map[string][]domain.PricePoint),
		cursor:    make(map[string]int),
		quantity:  make(map[string]decimal.Decimal),
		lastTrade: make(map[string]decimal.Decimal),
		lastRate:  make(map[string]rateMark),
	}

	held, err := r.holdings.List(ctx, p.ID, true)
	if err != nil {
		return nil, err
	}
	for _, h := range held {
		st.native[h.Symbol] = h.Currency
	}

	symFirst := make(map[string]time.Time)
	currencies := map[string]bool{}
	for _, t := range txs {
		if _, ok := symFirst[t.Symbol]; !ok {
			symFirst[t.Symbol] = t.TradeDate
		}
		if _, ok := st.native[t.Symbol]; !ok {
			st.native[t.Symbol] = t.Currency
		}
		currencies[t.Currency] = true
	}

	lookback := r.cfg.LookbackDays
	for _, sym := range sortedKeys(symFirst) {
		currencies[st.native[sym]] = true
		fetchFrom := symFirst[sym]
		if start.After(fetchFrom) {
			fetchFrom = start
		}
		if err := r.prices.EnsureHistory(ctx, sym, fetchFrom, today, false); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn().
				Err(err).
				Int64("portfolio_id", p.ID).
				Str("symbol", sym).
				Msg("Price history unavailable, using stored prices")
		}
		pts, err := r.prices.PricesBetween(ctx, sym, symFirst[sym].AddDate(0, 0, -lookback), today)
		if err != nil {
			return nil, err
		}
		st.prices[sym] = pts
	}

	for _, ccy := range sortedKeys(currencies) {
		if ccy == p.BaseCurrency {
			continue
		}
		if err := r.fx.Prefetch(ctx, ccy, p.BaseCurrency, start, today); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn().
				Err(err).
				Str("pair", ccy+"/"+p.BaseCurrency).
				Msg("FX prefetch failed, falling back to per-day lookups")
		}
	}
	return st, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// seedRates restores the fallback rates a rebuild from the first trade date
// would hold when reaching the day after prev.
func (st *run) seedRates(prev *domain.DailyChange) {
	for _, c := range prev.Contributions {
		if c.Currency == st.portfolio.BaseCurrency || c.FXDate == "" || !c.FXRate.IsPositive() {
			continue
		}
		st.lastRate[c.Currency] = rateMark{rate: c.FXRate, date: c.FXDate}
	}
}

// signedQuantity is the change in units held caused by t.
func signedQuantity(t domain.Transaction) decimal.Decimal {
	if t.Type == domain.TransactionSell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

func (st *run) apply(t domain.Transaction) {
	st.quantity[t.Symbol] = st.quantity[t.Symbol].Add(signedQuantity(t))
	if t.Currency == st.native[t.Symbol] && t.Price.IsPositive() {
		st.lastTrade[t.Symbol] = t.Price
	}
}

// priceOn selects the price of symbol for day.
func (r *Rebuilder) priceOn(st *run, symbol string, day time.Time) (price decimal.Decimal, priceDate, reason string) {
	pts := st.prices[symbol]
	i := st.cursor[symbol]
	for i < len(pts) && !pts[i].Date.After(day) {
		i++
	}
	st.cursor[symbol] = i

	if i > 0 {
		pp := pts[i-1]
		if domain.DaysBetween(pp.Date, day) > r.cfg.LookbackDays {
			reason = ReasonStalePrice
		}
		return pp.Price, domain.FormatDate(pp.Date), reason
	}
	if lt, ok := st.lastTrade[symbol]; ok {
		return lt, "", ReasonNoPrice
	}
	return decimal.Zero, "", ReasonNoPrice
}

// rateOn resolves the ccy to base rate for day, falling back to the last
// rate seen in this rebuild.
func (r *Rebuilder) rateOn(ctx context.Context, st *run, ccy string, day time.Time) (fxResult, error) {
	base := st.portfolio.BaseCurrency
	if ccy == base {
		return fxResult{rate: decimal.NewFromInt(1), ok: true}, nil
	}
	if res, ok := st.dayRates[ccy]; ok {
		return res, nil
	}

	var res fxResult
	conv, err := r.fx.Rate(ctx, ccy, base, day)
	switch {
	case err == nil:
		res = fxResult{rate: conv.Rate, date: domain.FormatDate(conv.RateDate), ok: true}
		st.lastRate[ccy] = rateMark{rate: conv.Rate, date: res.date}
	case ctx.Err() != nil:
		return fxResult{}, ctx.Err()
	default:
		if last, ok := st.lastRate[ccy]; ok {
			res = fxResult{rate: last.rate, date: last.date, reason: ReasonFXFallback, ok: true}
		} else {
			res = fxResult{reason: ReasonNoFX}
		}
		r.log.Debug().
			Err(err).
			Str("pair", ccy+"/"+base).
			Str("date", domain.FormatDate(day)).
			Str("fallback", res.reason).
			Msg("Rate unavailable")
	}
	st.dayRates[ccy] = res
	return res, nil
}

// valueDay computes the row for day. traded holds the transactions dated day.
func (r *Rebuilder) valueDay(ctx context.Context, st *run, day time.Time, traded []domain.Transaction, prevTotal decimal.Decimal) (*domain.DailyChange, error) {
	base := st.portfolio.BaseCurrency
	st.dayRates = make(map[string]fxResult)
	row := &domain.DailyChange{
		Key:          domain.NewDailyChangeKey(st.portfolio.ID, day),
		BaseCurrency: base,
		TotalValue:   decimal.Zero,
		NetFlow:      decimal.Zero,
	}

	dayPrice := make(map[string]decimal.Decimal)
	for _, sym := range sortedKeys(st.quantity) {
		qty := st.quantity[sym]
		if !qty.IsPositive() {
			continue
		}
		native := st.native[sym]
		c := domain.Contribution{Symbol: sym, Currency: native, Quantity: qty}
		c.Price, c.PriceDate, c.Reason = r.priceOn(st, sym, day)
		dayPrice[sym] = c.Price

		fx, err := r.rateOn(ctx, st, native, day)
		if err != nil {
			return nil, err
		}
		c.FXRate, c.FXDate = fx.rate, fx.date
		if c.Reason == "" {
			c.Reason = fx.reason
		}
		if fx.ok {
			c.Value = currency.Round(qty.Mul(c.Price).Mul(fx.rate), base)
		} else {
			c.Value = decimal.Zero
		}
		c.Degraded = c.Reason != "" || !fx.ok
		row.Degraded = row.Degraded || c.Degraded
		row.TotalValue = row.TotalValue.Add(c.Value)
		row.Contributions = append(row.Contributions, c)
	}

	for _, t := range traded {
		price := t.Price
		ccy := t.Currency
		if price.IsZero() {
			// Zero-priced transfers move value at the day's market price.
			p, ok := dayPrice[t.Symbol]
			if !ok {
				p, _, _ = r.priceOn(st, t.Symbol, day)
			}
			price, ccy = p, st.native[t.Symbol]
		}
		fx, err := r.rateOn(ctx, st, ccy, day)
		if err != nil {
			return nil, err
		}
		if !fx.ok || fx.reason != "" {
			row.Degraded = true
		}
		if fx.ok {
			row.NetFlow = row.NetFlow.Add(currency.Round(signedQuantity(t).Mul(price).Mul(fx.rate), base))
		}
	}

	row.Delta = row.TotalValue.Sub(prevTotal)
	row.MarketGain = row.Delta.Sub(row.NetFlow)
	return row, nil
}
