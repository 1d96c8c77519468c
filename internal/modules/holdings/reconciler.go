package holdings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// averageCostPlaces is the precision of the reported average cost. Replay
// state keeps the exact cost basis.
const averageCostPlaces = 10

// TransactionSource lists a holding's transactions in replay order.
type TransactionSource interface {
	ListForSymbol(ctx context.Context, portfolioID int64, symbol string) ([]domain.Transaction, error)
}

// DividendSource lists a holding's dividends.
type DividendSource interface {
	ListForSymbol(ctx context.Context, portfolioID int64, symbol string) ([]domain.Dividend, error)
}

// SecurityLookup resolves registered securities.
type SecurityLookup interface {
	GetSecurity(ctx context.Context, symbol string) (*domain.Security, error)
}

// PortfolioLookup resolves portfolios.
type PortfolioLookup interface {
	Get(ctx context.Context, id int64) (*domain.Portfolio, error)
}

// Converter converts amounts between currencies on a date.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (*currency.Conversion, error)
}

// Result is the outcome of reconciling one holding. Holding is nil when the
// symbol no longer has any transaction.
type Result struct {
	Holding *domain.Holding
	Changed bool
}

// Reconciler replays a holding's full transaction log into its current
// state. It never patches incrementally, so running it twice over the same
// log is a no-op the second time.
type Reconciler struct {
	repo         *Repository
	transactions TransactionSource
	dividends    DividendSource
	securities   SecurityLookup
	portfolios   PortfolioLookup
	fx           Converter
	log          zerolog.Logger
	now          func() time.Time
}

// NewReconciler creates a new holding reconciler
func NewReconciler(
	repo *Repository,
	transactions TransactionSource,
	dividends DividendSource,
	securities SecurityLookup,
	portfolios PortfolioLookup,
	fx Converter,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:         repo,
		transactions: transactions,
		dividends:    dividends,
		securities:   securities,
		portfolios:   portfolios,
		fx:           fx,
		log:          log.With().Str("service", "holding_reconciler").Logger(),
		now:          time.Now,
	}
}

// SetClock overrides the clock. Used by tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// nativeCurrency returns the major-unit currency the holding is tracked in:
// the registry listing currency, else the first transaction's currency.
func (r *Reconciler) nativeCurrency(ctx context.Context, symbol string, txs []domain.Transaction) (string, error) {
	sec, err := r.securities.GetSecurity(ctx, symbol)
	if err != nil {
		return "", err
	}
	if sec != nil && sec.Currency != "" {
		n, err := currency.Normalize(sec.Currency)
		if err == nil {
			return n.Code, nil
		}
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("Registry currency invalid, using transaction currency")
	}
	return txs[0].Currency, nil
}

// replay is the running state of a transaction replay.
type replay struct {
	quantity       decimal.Decimal
	costBasis      decimal.Decimal
	realizedNative decimal.Decimal
	realizedBase   decimal.Decimal
	degraded       bool
}

func (s *replay) averageCost() decimal.Decimal {
	if s.quantity.IsZero() {
		return decimal.Zero
	}
	return s.costBasis.Div(s.quantity)
}

func (s *replay) add(qty, price decimal.Decimal) {
	s.quantity = s.quantity.Add(qty)
	s.costBasis = s.costBasis.Add(qty.Mul(price))
}

// remove takes qty out of the position at the current average cost and
// returns that average. The remaining cost basis shrinks proportionally.
func (s *replay) remove(qty decimal.Decimal) decimal.Decimal {
	avg := s.averageCost()
	remaining := s.quantity.Sub(qty)
	if remaining.IsZero() {
		s.costBasis = decimal.Zero
	} else {
		s.costBasis = s.costBasis.Mul(remaining).Div(s.quantity)
	}
	s.quantity = remaining
	return avg
}

// Reconcile replays every transaction and dividend of (portfolio, symbol)
// and stores the resulting holding in place of the previous one.
//
// An oversold position aborts with OversoldPositionError and leaves the
// stored holding untouched. Failing to convert a cross-currency trade into
// the native currency also aborts, since quantities and cost basis would be
// wrong. Failing to convert a realized gain or dividend into the base
// currency only marks the holding degraded.
func (r *Reconciler) Reconcile(ctx context.Context, portfolioID int64, symbol string) (*Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p, err := r.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrNotFound)
	}

	existing, err := r.repo.Get(ctx, portfolioID, symbol)
	if err != nil {
		return nil, err
	}

	txs, err := r.transactions.ListForSymbol(ctx, portfolioID, symbol)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		if existing == nil {
			return &Result{}, nil
		}
		if err := r.repo.Delete(ctx, portfolioID, symbol); err != nil {
			return nil, err
		}
		r.log.Info().Int64("portfolio_id", portfolioID).Str("symbol", symbol).Msg("Removed holding without transactions")
		return &Result{Changed: true}, nil
	}

	native, err := r.nativeCurrency(ctx, symbol, txs)
	if err != nil {
		return nil, err
	}

	st := &replay{}
	var lastID int64
	for _, t := range txs {
		if t.ID > lastID {
			lastID = t.ID
		}

		price := t.Price
		if t.Currency != native {
			conv, err := r.fx.Convert(ctx, t.Price, t.Currency, native, t.TradeDate)
			if err != nil {
				return nil, fmt.Errorf("failed to convert transaction %d price from %s to %s: %w", t.ID, t.Currency, native, err)
			}
			price = conv.Amount
		}

		if t.Type == domain.TransactionBuy || (t.Type == domain.TransactionTransfer && t.Quantity.IsPositive()) {
			st.add(t.Quantity, price)
			continue
		}

		out := t.Quantity.Abs()
		if out.GreaterThan(st.quantity) {
			return nil, &domain.OversoldPositionError{
				PortfolioID:   portfolioID,
				Symbol:        symbol,
				TransactionID: t.ID,
				TradeDate:     t.TradeDate,
				Held:          st.quantity,
				Sold:          out,
			}
		}
		avg := st.remove(out)
		if t.Type != domain.TransactionSell {
			continue
		}

		gain := out.Mul(price.Sub(avg))
		st.realizedNative = st.realizedNative.Add(gain)
		if err := r.addBase(ctx, &st.realizedBase, st, gain, native, p.BaseCurrency, t.TradeDate); err != nil {
			return nil, err
		}
	}

	income := decimal.Zero
	divs, err := r.dividends.ListForSymbol(ctx, portfolioID, symbol)
	if err != nil {
		return nil, err
	}
	for _, d := range divs {
		if err := r.addBase(ctx, &income, st, d.Amount, d.Currency, p.BaseCurrency, d.PayDate); err != nil {
			return nil, err
		}
	}

	h := domain.Holding{
		PortfolioID:        portfolioID,
		Symbol:             symbol,
		Currency:           native,
		Quantity:           st.quantity,
		AverageCost:        st.averageCost().Round(averageCostPlaces),
		CostBasis:          st.costBasis,
		RealizedGainNative: st.realizedNative,
		RealizedGain:       st.realizedBase,
		DividendIncome:     income,
		LastTransactionID:  lastID,
		Degraded:           st.degraded,
		LastSyncedAt:       r.now().UTC().Truncate(time.Second),
	}

	if existing != nil && existing.SameState(h) {
		r.log.Debug().Int64("portfolio_id", portfolioID).Str("symbol", symbol).Msg("Holding unchanged")
		return &Result{Holding: existing}, nil
	}
	if err := r.repo.Replace(ctx, h); err != nil {
		return nil, err
	}

	r.log.Info().
		Int64("portfolio_id", portfolioID).
		Str("symbol", symbol).
		Str("quantity", h.Quantity.String()).
		Str("average_cost", h.AverageCost.String()).
		Str("realized_gain", h.RealizedGain.String()).
		Bool("degraded", h.Degraded).
		Int("transactions", len(txs)).
		Msg("Reconciled holding")
	return &Result{Holding: &h, Changed: true}, nil
}

// addBase converts amount into the base currency on date and adds it to
// *acc. A conversion failure marks the replay degraded and skips the amount,
// unless the context is done.
func (r *Reconciler) addBase(ctx context.Context, acc *decimal.Decimal, st *replay, amount decimal.Decimal, from, base string, date time.Time) error {
	conv, err := r.fx.Convert(ctx, amount, from, base, date)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn().
			Err(err).
			Str("from", from).
			Str("to", base).
			Str("date", domain.FormatDate(date)).
			Msg("Base currency conversion failed, holding degraded")
		st.degraded = true
		return nil
	}
	*acc = acc.Add(currency.Round(conv.Amount, base))
	return nil
}
