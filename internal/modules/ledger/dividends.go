package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// DividendRepository handles dividend records.
type DividendRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDividendRepository creates a new dividend repository
func NewDividendRepository(db *sql.DB, log zerolog.Logger) *DividendRepository {
	return &DividendRepository{
		db:  db,
		log: log.With().Str("repo", "dividend").Logger(),
	}
}

const dividendColumns = "id, portfolio_id, symbol, amount, currency, pay_date"

func scanDividend(row interface{ Scan(...interface{}) error }) (*domain.Dividend, error) {
	var d domain.Dividend
	var payDate string
	if err := row.Scan(&d.ID, &d.PortfolioID, &d.Symbol, &d.Amount, &d.Currency, &payDate); err != nil {
		return nil, err
	}
	var err error
	if d.PayDate, err = domain.ParseDate(payDate); err != nil {
		return nil, err
	}
	return &d, nil
}

// Get returns a dividend of the portfolio, or nil.
func (r *DividendRepository) Get(ctx context.Context, portfolioID, id int64) (*domain.Dividend, error) {
	d, err := scanDividend(r.db.QueryRowContext(ctx,
		"SELECT "+dividendColumns+" FROM dividends WHERE portfolio_id = ? AND id = ?", portfolioID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dividend %d: %w", id, err)
	}
	return d, nil
}

// ListForSymbol returns a holding's dividends ordered by pay date.
func (r *DividendRepository) ListForSymbol(ctx context.Context, portfolioID int64, symbol string) ([]domain.Dividend, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+dividendColumns+" FROM dividends WHERE portfolio_id = ? AND symbol = ? ORDER BY pay_date, id",
		portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends: %w", err)
	}
	defer rows.Close()

	var out []domain.Dividend
	for rows.Next() {
		d, err := scanDividend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dividend: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func insertDividend(ctx context.Context, q execer, d *domain.Dividend) error {
	res, err := q.ExecContext(ctx,
		"INSERT INTO dividends (portfolio_id, symbol, amount, currency, pay_date) VALUES (?, ?, ?, ?, ?)",
		d.PortfolioID, d.Symbol, d.Amount.String(), d.Currency, domain.FormatDate(d.PayDate),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dividend: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	return nil
}

func deleteDividend(ctx context.Context, q execer, portfolioID, id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM dividends WHERE portfolio_id = ? AND id = ?", portfolioID, id)
	if err != nil {
		return fmt.Errorf("failed to delete dividend %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dividend %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
