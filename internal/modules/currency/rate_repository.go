package currency

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

// RateRepository stores historic FX rates. Rows are write-once: a rate
// recorded for a (from, to, date) triple is never overwritten.
type RateRepository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRateRepository creates a new rate repository.
func NewRateRepository(db *sql.DB, log zerolog.Logger) *RateRepository {
	return &RateRepository{
		db:  db,
		log: log.With().Str("repo", "currency_rates").Logger(),
		now: time.Now,
	}
}

const rateColumns = "from_currency, to_currency, date, rate, source"

func scanRate(row interface{ Scan(...interface{}) error }) (*domain.CurrencyRate, error) {
	var r domain.CurrencyRate
	var date string
	if err := row.Scan(&r.From, &r.To, &date, &r.Rate, &r.Source); err != nil {
		return nil, err
	}
	d, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}
	r.Date = d
	return &r, nil
}

// Get returns the rate recorded for the exact date, or nil if none.
func (r *RateRepository) Get(ctx context.Context, from, to string, date time.Time) (*domain.CurrencyRate, error) {
	query := "SELECT " + rateColumns + " FROM currency_rates WHERE from_currency = ? AND to_currency = ? AND date = ?"
	rate, err := scanRate(r.db.QueryRowContext(ctx, query, from, to, domain.FormatDate(date)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate %s/%s on %s: %w", from, to, domain.FormatDate(date), err)
	}
	return rate, nil
}

// FindNearest returns the most recent rate on or before date and no more
// than lookbackDays earlier, or nil if none.
func (r *RateRepository) FindNearest(ctx context.Context, from, to string, date time.Time, lookbackDays int) (*domain.CurrencyRate, error) {
	earliest := date.AddDate(0, 0, -lookbackDays)
	query := "SELECT " + rateColumns + ` FROM currency_rates
		WHERE from_currency = ? AND to_currency = ? AND date <= ? AND date >= ?
		ORDER BY date DESC LIMIT 1`
	rate, err := scanRate(r.db.QueryRowContext(ctx, query, from, to, domain.FormatDate(date), domain.FormatDate(earliest)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find rate %s/%s near %s: %w", from, to, domain.FormatDate(date), err)
	}
	return rate, nil
}

// Between returns all rates for the pair in [from, to] ordered by date.
func (r *RateRepository) Between(ctx context.Context, base, quote string, start, end time.Time) ([]domain.CurrencyRate, error) {
	query := "SELECT " + rateColumns + ` FROM currency_rates
		WHERE from_currency = ? AND to_currency = ? AND date >= ? AND date <= ?
		ORDER BY date`
	rows, err := r.db.QueryContext(ctx, query, base, quote, domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query rates %s/%s: %w", base, quote, err)
	}
	defer rows.Close()

	var rates []domain.CurrencyRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rates = append(rates, *rate)
	}
	return rates, rows.Err()
}

// InsertBatch records rates that are not yet known. Existing triples are
// left untouched. Returns the number of new rows.
func (r *RateRepository) InsertBatch(ctx context.Context, rates []domain.CurrencyRate) (int64, error) {
	if len(rates) == 0 {
		return 0, nil
	}
	var inserted int64
	fetchedAt := r.now().Unix()
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO currency_rates
			(from_currency, to_currency, date, rate, source, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare rate insert: %w", err)
		}
		defer stmt.Close()

		for _, rate := range rates {
			if !rate.Rate.IsPositive() {
				r.log.Warn().
					Str("pair", rate.From+"/"+rate.To).
					Str("date", domain.FormatDate(rate.Date)).
					Msg("Ignoring non-positive rate")
				continue
			}
			res, err := stmt.ExecContext(ctx, rate.From, rate.To, domain.FormatDate(rate.Date), rate.Rate.String(), rate.Source, fetchedAt)
			if err != nil {
				return fmt.Errorf("failed to insert rate %s/%s on %s: %w", rate.From, rate.To, domain.FormatDate(rate.Date), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Count returns the number of stored rates. Used by health reporting.
func (r *RateRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM currency_rates").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rates: %w", err)
	}
	return n, nil
}
