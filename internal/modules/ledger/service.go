package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PortfolioLookup resolves portfolios.
type PortfolioLookup interface {
	Get(ctx context.Context, id int64) (*domain.Portfolio, error)
}

// TransactionInput is a transaction as entered by a user or an import.
type TransactionInput struct {
	TradeDate   time.Time
	Type        domain.TransactionType
	Symbol      string
	Currency    string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	PortfolioID int64
}

// DividendInput is a dividend as entered by a user or an import.
type DividendInput struct {
	PayDate     time.Time
	Symbol      string
	Currency    string
	Amount      decimal.Decimal
	PortfolioID int64
}

// Service records ledger mutations and announces them on the event bus.
// Every mutation emits TransactionChanged once it is committed.
type Service struct {
	db           *sql.DB
	securities   *SecurityRepository
	transactions *TransactionRepository
	dividends    *DividendRepository
	portfolios   PortfolioLookup
	events       *events.Manager
	log          zerolog.Logger
	now          func() time.Time
}

// NewService creates a new ledger service
func NewService(
	db *sql.DB,
	securities *SecurityRepository,
	transactions *TransactionRepository,
	dividends *DividendRepository,
	portfolios PortfolioLookup,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:           db,
		securities:   securities,
		transactions: transactions,
		dividends:    dividends,
		portfolios:   portfolios,
		events:       eventManager,
		log:          log.With().Str("service", "ledger").Logger(),
		now:          time.Now,
	}
}

// SetClock overrides the clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidTransaction, fmt.Sprintf(format, args...))
}

func (s *Service) checkPortfolio(ctx context.Context, id int64) error {
	p, err := s.portfolios.Get(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("portfolio %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Service) checkDate(d time.Time, what string) error {
	if d.IsZero() {
		return invalid("%s is required", what)
	}
	if domain.Day(d).After(domain.Day(s.now())) {
		return invalid("%s %s is in the future", what, domain.FormatDate(d))
	}
	return nil
}

// normalizeTransaction validates in and builds the transaction to store.
// Minor-unit prices are converted to the major unit; the entered values are
// kept as the original price and currency.
func (s *Service) normalizeTransaction(in TransactionInput) (*domain.Transaction, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return nil, invalid("symbol is required")
	}
	if !in.Type.Valid() {
		return nil, invalid("unknown type %q", in.Type)
	}
	switch in.Type {
	case domain.TransactionTransfer:
		if in.Quantity.IsZero() {
			return nil, invalid("transfer quantity must not be zero")
		}
	default:
		if !in.Quantity.IsPositive() {
			return nil, invalid("%s quantity must be positive", in.Type)
		}
	}
	if in.Price.IsNegative() {
		return nil, invalid("price must not be negative")
	}
	if err := s.checkDate(in.TradeDate, "trade date"); err != nil {
		return nil, err
	}
	n, err := currency.Normalize(in.Currency)
	if err != nil {
		return nil, invalid("%v", err)
	}

	return &domain.Transaction{
		PortfolioID:      in.PortfolioID,
		Type:             in.Type,
		Symbol:           symbol,
		Quantity:         in.Quantity,
		Price:            in.Price.Mul(n.Factor),
		Currency:         n.Code,
		OriginalPrice:    in.Price,
		OriginalCurrency: strings.TrimSpace(in.Currency),
		TradeDate:        domain.Day(in.TradeDate),
		CreatedAt:        s.now().UTC().Truncate(time.Second),
	}, nil
}

// register adds the transaction's security to the registry on first use.
// The listing currency is the one the transaction was entered in, so a
// London listing keeps its pence code.
func (s *Service) register(ctx context.Context, q execer, t *domain.Transaction) error {
	_, _, err := s.securities.ensure(ctx, q, domain.Security{
		Symbol:   t.Symbol,
		Currency: t.OriginalCurrency,
		Market:   providers.MarketForSymbol(t.Symbol),
		Class:    domain.AssetEquity,
	})
	return err
}

// RecordTransaction validates, normalizes and stores a new transaction.
func (s *Service) RecordTransaction(ctx context.Context, in TransactionInput) (*domain.Transaction, error) {
	t, err := s.normalizeTransaction(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkPortfolio(ctx, t.PortfolioID); err != nil {
		return nil, err
	}

	err = database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.register(ctx, tx, t); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("portfolio_id", t.PortfolioID).
		Int64("transaction_id", t.ID).
		Str("type", string(t.Type)).
		Str("symbol", t.Symbol).
		Str("quantity", t.Quantity.String()).
		Str("price", t.Price.String()).
		Str("currency", t.Currency).
		Str("trade_date", domain.FormatDate(t.TradeDate)).
		Msg("Recorded transaction")

	s.emit(events.MutationCreated, t.PortfolioID, t.ID, t.TradeDate, t.Symbol)
	return t, nil
}

// AmendTransaction replaces a transaction. Transactions are immutable, so
// the old row is deleted and the corrected one inserted under a new ID in a
// single database transaction.
func (s *Service) AmendTransaction(ctx context.Context, portfolioID, id int64, in TransactionInput) (*domain.Transaction, error) {
	in.PortfolioID = portfolioID
	t, err := s.normalizeTransaction(in)
	if err != nil {
		return nil, err
	}

	var old *domain.Transaction
	err = database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if old, err = getTransaction(ctx, tx, portfolioID, id); err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("transaction %d: %w", id, domain.ErrNotFound)
		}
		if err := deleteTransaction(ctx, tx, portfolioID, id); err != nil {
			return err
		}
		if err := s.register(ctx, tx, t); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("portfolio_id", portfolioID).
		Int64("replaced_id", id).
		Int64("transaction_id", t.ID).
		Str("symbol", t.Symbol).
		Msg("Amended transaction")

	earliest := old.TradeDate
	if t.TradeDate.Before(earliest) {
		earliest = t.TradeDate
	}
	s.emit(events.MutationAmended, portfolioID, t.ID, earliest, old.Symbol, t.Symbol)
	return t, nil
}

// DeleteTransaction removes a transaction from the log.
func (s *Service) DeleteTransaction(ctx context.Context, portfolioID, id int64) error {
	var old *domain.Transaction
	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if old, err = getTransaction(ctx, tx, portfolioID, id); err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("transaction %d: %w", id, domain.ErrNotFound)
		}
		return deleteTransaction(ctx, tx, portfolioID, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Int64("portfolio_id", portfolioID).
		Int64("transaction_id", id).
		Str("symbol", old.Symbol).
		Msg("Deleted transaction")

	s.emit(events.MutationDeleted, portfolioID, id, old.TradeDate, old.Symbol)
	return nil
}

// RecordDividend validates and stores a dividend. Minor-unit amounts are
// converted to the major unit.
func (s *Service) RecordDividend(ctx context.Context, in DividendInput) (*domain.Dividend, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return nil, invalid("symbol is required")
	}
	if !in.Amount.IsPositive() {
		return nil, invalid("dividend amount must be positive")
	}
	if err := s.checkDate(in.PayDate, "pay date"); err != nil {
		return nil, err
	}
	n, err := currency.Normalize(in.Currency)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := s.checkPortfolio(ctx, in.PortfolioID); err != nil {
		return nil, err
	}

	d := &domain.Dividend{
		PortfolioID: in.PortfolioID,
		Symbol:      symbol,
		Amount:      in.Amount.Mul(n.Factor),
		Currency:    n.Code,
		PayDate:     domain.Day(in.PayDate),
	}
	if err := insertDividend(ctx, s.db, d); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("portfolio_id", d.PortfolioID).
		Str("symbol", d.Symbol).
		Str("amount", d.Amount.String()).
		Str("currency", d.Currency).
		Msg("Recorded dividend")

	s.emit(events.MutationCreated, d.PortfolioID, 0, d.PayDate, d.Symbol)
	return d, nil
}

// DeleteDividend removes a dividend.
func (s *Service) DeleteDividend(ctx context.Context, portfolioID, id int64) error {
	old, err := s.dividends.Get(ctx, portfolioID, id)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("dividend %d: %w", id, domain.ErrNotFound)
	}
	if err := deleteDividend(ctx, s.db, portfolioID, id); err != nil {
		return err
	}
	s.emit(events.MutationDeleted, portfolioID, 0, old.PayDate, old.Symbol)
	return nil
}

func (s *Service) emit(kind events.MutationKind, portfolioID, txID int64, earliest time.Time, symbols ...string) {
	if s.events == nil {
		return
	}
	seen := make(map[string]bool, len(symbols))
	var uniq []string
	for _, sym := range symbols {
		if !seen[sym] {
			seen[sym] = true
			uniq = append(uniq, sym)
		}
	}
	sort.Strings(uniq)
	s.events.Emit("ledger", &events.TransactionChangedData{
		PortfolioID:   portfolioID,
		TransactionID: txID,
		Kind:          kind,
		Symbols:       uniq,
		EarliestDate:  earliest,
	})
}
