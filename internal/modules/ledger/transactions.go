package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// transactionColumns must match scanTransaction.
const transactionColumns = `id, portfolio_id, type, symbol, quantity, price, currency, trade_date,
original_price, original_currency, created_at`

// TransactionRepository handles the immutable transaction log.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

func scanTransaction(row interface{ Scan(...interface{}) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	var typ, tradeDate string
	var createdAt int64
	err := row.Scan(&t.ID, &t.PortfolioID, &typ, &t.Symbol, &t.Quantity, &t.Price, &t.Currency,
		&tradeDate, &t.OriginalPrice, &t.OriginalCurrency, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TransactionType(typ)
	if t.TradeDate, err = domain.ParseDate(tradeDate); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Get returns a transaction of the portfolio, or nil.
func (r *TransactionRepository) Get(ctx context.Context, portfolioID, id int64) (*domain.Transaction, error) {
	return getTransaction(ctx, r.db, portfolioID, id)
}

func getTransaction(ctx context.Context, q execer, portfolioID, id int64) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE portfolio_id = ? AND id = ?", portfolioID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %d: %w", id, err)
	}
	return t, nil
}

// ListForSymbol returns a holding's transactions in replay order.
func (r *TransactionRepository) ListForSymbol(ctx context.Context, portfolioID int64, symbol string) ([]domain.Transaction, error) {
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE portfolio_id = ? AND symbol = ? ORDER BY trade_date, id",
		portfolioID, symbol)
}

// ListForPortfolio returns every transaction of the portfolio in replay order.
func (r *TransactionRepository) ListForPortfolio(ctx context.Context, portfolioID int64) ([]domain.Transaction, error) {
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE portfolio_id = ? ORDER BY trade_date, id",
		portfolioID)
}

// Symbols returns the distinct symbols traded in the portfolio.
func (r *TransactionRepository) Symbols(ctx context.Context, portfolioID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT symbol FROM transactions WHERE portfolio_id = ? ORDER BY symbol", portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FirstTradeDate returns the earliest trade date of the portfolio, or nil
// when it has no transactions.
func (r *TransactionRepository) FirstTradeDate(ctx context.Context, portfolioID int64) (*time.Time, error) {
	var first sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT MIN(trade_date) FROM transactions WHERE portfolio_id = ?", portfolioID,
	).Scan(&first)
	if err != nil {
		return nil, fmt.Errorf("failed to get first trade date: %w", err)
	}
	if !first.Valid {
		return nil, nil
	}
	d, err := domain.ParseDate(first.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func insertTransaction(ctx context.Context, q execer, t *domain.Transaction) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(portfolio_id, type, symbol, quantity, price, currency, trade_date,
		 original_price, original_currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PortfolioID, string(t.Type), t.Symbol, t.Quantity.String(), t.Price.String(), t.Currency,
		domain.FormatDate(t.TradeDate), t.OriginalPrice.String(), t.OriginalCurrency, t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	return nil
}

func deleteTransaction(ctx context.Context, q execer, portfolioID, id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM transactions WHERE portfolio_id = ? AND id = ?", portfolioID, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
