// Package marketdata caches latest quotes and daily price history fetched
// through the provider chain.
package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists market_data, price_history and price_history_coverage.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new market data repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "market_data").Logger(),
	}
}

// Coverage is the date range for which history has been fetched.
type Coverage struct {
	From time.Time
	To   time.Time
}

// Covers reports whether [from, to] lies within the coverage.
func (c *Coverage) Covers(from, to time.Time) bool {
	return c != nil && !c.From.After(from) && !c.To.Before(to)
}

// GetLatest returns the cached quote for symbol, or nil.
func (r *Repository) GetLatest(ctx context.Context, symbol string) (*domain.MarketData, error) {
	var md domain.MarketData
	var asOf string
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		"SELECT symbol, price, currency, as_of, source, updated_at FROM market_data WHERE symbol = ?", symbol,
	).Scan(&md.Symbol, &md.Price, &md.Currency, &asOf, &md.Source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market data for %s: %w", symbol, err)
	}
	if md.AsOf, err = time.Parse(time.RFC3339, asOf); err != nil {
		return nil, fmt.Errorf("invalid as_of for %s: %w", symbol, err)
	}
	md.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &md, nil
}

// UpsertLatest replaces the cached quote for md.Symbol.
func (r *Repository) UpsertLatest(ctx context.Context, md domain.MarketData) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_data (symbol, price, currency, as_of, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			currency = excluded.currency,
			as_of = excluded.as_of,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		md.Symbol, md.Price.String(), md.Currency, md.AsOf.UTC().Format(time.RFC3339), md.Source, md.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert market data for %s: %w", md.Symbol, err)
	}
	return nil
}

// InsertPrices stores daily prices. Existing dates are kept unless
// overwrite is set. Returns the number of rows written.
func (r *Repository) InsertPrices(ctx context.Context, symbol, source string, points []domain.PricePoint, overwrite bool) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	verb := "INSERT OR IGNORE"
	if overwrite {
		verb = "INSERT OR REPLACE"
	}

	var written int64
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, verb+" INTO price_history (symbol, date, price, source) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare price insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			res, err := stmt.ExecContext(ctx, symbol, domain.FormatDate(p.Date), p.Price.String(), source)
			if err != nil {
				return fmt.Errorf("failed to insert price %s on %s: %w", symbol, domain.FormatDate(p.Date), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// PricesBetween returns daily prices in [from, to] ordered by date.
func (r *Repository) PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT date, price FROM price_history WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date",
		symbol, domain.FormatDate(from), domain.FormatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		var date string
		if err := rows.Scan(&date, &p.Price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		if p.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// PriceOnOrBefore returns the latest price on or before date and not
// earlier than earliest, or nil.
func (r *Repository) PriceOnOrBefore(ctx context.Context, symbol string, date, earliest time.Time) (*domain.PricePoint, error) {
	var p domain.PricePoint
	var d string
	err := r.db.QueryRowContext(ctx,
		"SELECT date, price FROM price_history WHERE symbol = ? AND date <= ? AND date >= ? ORDER BY date DESC LIMIT 1",
		symbol, domain.FormatDate(date), domain.FormatDate(earliest),
	).Scan(&d, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s on %s: %w", symbol, domain.FormatDate(date), err)
	}
	if p.Date, err = domain.ParseDate(d); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetCoverage returns the fetched history range for symbol, or nil.
func (r *Repository) GetCoverage(ctx context.Context, symbol string) (*Coverage, error) {
	var from, to string
	err := r.db.QueryRowContext(ctx,
		"SELECT from_date, to_date FROM price_history_coverage WHERE symbol = ?", symbol,
	).Scan(&from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coverage for %s: %w", symbol, err)
	}
	c := &Coverage{}
	if c.From, err = domain.ParseDate(from); err != nil {
		return nil, err
	}
	if c.To, err = domain.ParseDate(to); err != nil {
		return nil, err
	}
	return c, nil
}

// SetCoverage records the fetched history range for symbol.
func (r *Repository) SetCoverage(ctx context.Context, symbol string, c Coverage, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO price_history_coverage (symbol, from_date, to_date, fetched_at) VALUES (?, ?, ?, ?)",
		symbol, domain.FormatDate(c.From), domain.FormatDate(c.To), fetchedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set coverage for %s: %w", symbol, err)
	}
	return nil
}
