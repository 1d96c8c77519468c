// Package holdings derives per-security positions by replaying the
// transaction log.
package holdings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// holdingColumns must match scanHolding.
const holdingColumns = `portfolio_id, symbol, currency, quantity, average_cost, cost_basis,
realized_gain_native, realized_gain, dividend_income, degraded, last_transaction_id, last_synced_at`

// Repository handles holding database operations. Rows are only written by
// the Reconciler.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new holdings repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "holdings").Logger(),
	}
}

func scanHolding(row interface{ Scan(...interface{}) error }) (*domain.Holding, error) {
	var h domain.Holding
	var degraded int
	var syncedAt int64
	err := row.Scan(&h.PortfolioID, &h.Symbol, &h.Currency, &h.Quantity, &h.AverageCost, &h.CostBasis,
		&h.RealizedGainNative, &h.RealizedGain, &h.DividendIncome, &degraded, &h.LastTransactionID, &syncedAt)
	if err != nil {
		return nil, err
	}
	h.Degraded = degraded != 0
	h.LastSyncedAt = time.Unix(syncedAt, 0).UTC()
	return &h, nil
}

// Get returns the holding for (portfolio, symbol), or nil.
func (r *Repository) Get(ctx context.Context, portfolioID int64, symbol string) (*domain.Holding, error) {
	h, err := scanHolding(r.db.QueryRowContext(ctx,
		"SELECT "+holdingColumns+" FROM holdings WHERE portfolio_id = ? AND symbol = ?", portfolioID, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %s: %w", symbol, err)
	}
	return h, nil
}

// List returns the portfolio's holdings ordered by symbol. Closed positions
// are included when includeClosed is set.
func (r *Repository) List(ctx context.Context, portfolioID int64, includeClosed bool) ([]domain.Holding, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+holdingColumns+" FROM holdings WHERE portfolio_id = ? ORDER BY symbol", portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if !includeClosed && !h.IsOpen() {
			continue
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// Replace stores h in place of any existing row for the same key.
func (r *Repository) Replace(ctx context.Context, h domain.Holding) error {
	degraded := 0
	if h.Degraded {
		degraded = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO holdings
		(portfolio_id, symbol, currency, quantity, average_cost, cost_basis,
		 realized_gain_native, realized_gain, dividend_income, degraded, last_transaction_id, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.PortfolioID, h.Symbol, h.Currency, h.Quantity.String(), h.AverageCost.String(), h.CostBasis.String(),
		h.RealizedGainNative.String(), h.RealizedGain.String(), h.DividendIncome.String(), degraded,
		h.LastTransactionID, h.LastSyncedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store holding %s: %w", h.Symbol, err)
	}
	return nil
}

// Delete removes the holding for (portfolio, symbol).
func (r *Repository) Delete(ctx context.Context, portfolioID int64, symbol string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM holdings WHERE portfolio_id = ? AND symbol = ?", portfolioID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", symbol, err)
	}
	return nil
}

// Symbols returns the symbols that currently have a holding row.
func (r *Repository) Symbols(ctx context.Context, portfolioID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT symbol FROM holdings WHERE portfolio_id = ? ORDER BY symbol", portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holding symbols: %w", err)
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
