// Package valuation maintains the per-day valuation series of a portfolio.
// The series is a materialized view of the ledger, prices and FX rates and
// can be dropped and rebuilt at any time.
package valuation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

const dailyChangeColumns = `portfolio_id, date, base_currency, total_value, delta, net_flow, market_gain,
degraded, contributions, generation`

// Repository handles daily_changes rows. Every lookup and write is keyed by
// domain.DailyChangeKey.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new daily change repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "daily_changes").Logger(),
	}
}

func scanDailyChange(row interface{ Scan(...interface{}) error }) (*domain.DailyChange, error) {
	var d domain.DailyChange
	var degraded int
	var blob []byte
	err := row.Scan(&d.Key.PortfolioID, &d.Key.Date, &d.BaseCurrency, &d.TotalValue, &d.Delta, &d.NetFlow,
		&d.MarketGain, &degraded, &blob, &d.Generation)
	if err != nil {
		return nil, err
	}
	d.Degraded = degraded != 0
	if d.Contributions, err = decodeContributions(blob); err != nil {
		return nil, err
	}
	return &d, nil
}

// Get returns the row for key, or nil.
func (r *Repository) Get(ctx context.Context, key domain.DailyChangeKey) (*domain.DailyChange, error) {
	d, err := scanDailyChange(r.db.QueryRowContext(ctx,
		"SELECT "+dailyChangeColumns+" FROM daily_changes WHERE portfolio_id = ? AND date = ?",
		key.PortfolioID, key.Date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily change %d@%s: %w", key.PortfolioID, key.Date, err)
	}
	return d, nil
}

// Range returns the rows of a portfolio in [from, to] ordered by date.
func (r *Repository) Range(ctx context.Context, portfolioID int64, from, to time.Time) ([]domain.DailyChange, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+dailyChangeColumns+" FROM daily_changes WHERE portfolio_id = ? AND date >= ? AND date <= ? ORDER BY date",
		portfolioID, domain.FormatDate(from), domain.FormatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily changes: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyChange
	for rows.Next() {
		d, err := scanDailyChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily change: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Count returns the number of rows stored for the portfolio.
func (r *Repository) Count(ctx context.Context, portfolioID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_changes WHERE portfolio_id = ?", portfolioID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily changes: %w", err)
	}
	return n, nil
}

func upsertRows(ctx context.Context, tx *sql.Tx, rows []domain.DailyChange, now time.Time) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO daily_changes
		(portfolio_id, date, base_currency, total_value, delta, net_flow, market_gain,
		 degraded, contributions, generation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare daily change upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range rows {
		blob, err := encodeContributions(d.Contributions)
		if err != nil {
			return err
		}
		degraded := 0
		if d.Degraded {
			degraded = 1
		}
		_, err = stmt.ExecContext(ctx,
			d.Key.PortfolioID, d.Key.Date, d.BaseCurrency, d.TotalValue.String(), d.Delta.String(),
			d.NetFlow.String(), d.MarketGain.String(), degraded, blob, d.Generation, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert daily change %s: %w", d.Key.Date, err)
		}
	}
	return nil
}

// deleteOutside removes rows dated before first or after last.
func deleteOutside(ctx context.Context, tx *sql.Tx, portfolioID int64, first, last time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"DELETE FROM daily_changes WHERE portfolio_id = ? AND (date < ? OR date > ?)",
		portfolioID, domain.FormatDate(first), domain.FormatDate(last))
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily changes: %w", err)
	}
	return res.RowsAffected()
}

func deleteAll(ctx context.Context, tx *sql.Tx, portfolioID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, "DELETE FROM daily_changes WHERE portfolio_id = ?", portfolioID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear daily changes: %w", err)
	}
	return res.RowsAffected()
}
