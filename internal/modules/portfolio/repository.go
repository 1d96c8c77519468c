// Package portfolio stores portfolios, the owners of holdings and of the
// daily valuation series.
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/rs/zerolog"
)

// Repository handles portfolio database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

const portfolioColumns = "id, user_id, name, base_currency, created_at"

func scanPortfolio(row interface{ Scan(...interface{}) error }) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var createdAt int64
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.BaseCurrency, &createdAt); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

// Create validates and stores a new portfolio. The base currency must be a
// major-unit ISO code.
func (r *Repository) Create(ctx context.Context, p *domain.Portfolio) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidPortfolio)
	}
	n, err := currency.Normalize(p.BaseCurrency)
	if err != nil {
		return fmt.Errorf("%w: base currency: %v", domain.ErrInvalidPortfolio, err)
	}
	if currency.IsMinorUnit(p.BaseCurrency) {
		return fmt.Errorf("%w: base currency %q is a minor unit, use %s", domain.ErrInvalidPortfolio, p.BaseCurrency, n.Code)
	}
	p.BaseCurrency = n.Code
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO portfolios (user_id, name, base_currency, created_at) VALUES (?, ?, ?, ?)",
		p.UserID, p.Name, p.BaseCurrency, p.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}

	r.log.Info().
		Int64("portfolio_id", p.ID).
		Int64("user_id", p.UserID).
		Str("base_currency", p.BaseCurrency).
		Msg("Created portfolio")
	return nil
}

// Get returns a portfolio, or nil.
func (r *Repository) Get(ctx context.Context, id int64) (*domain.Portfolio, error) {
	p, err := scanPortfolio(r.db.QueryRowContext(ctx,
		"SELECT "+portfolioColumns+" FROM portfolios WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %d: %w", id, err)
	}
	return p, nil
}

// List returns all portfolios ordered by ID.
func (r *Repository) List(ctx context.Context) ([]domain.Portfolio, error) {
	return r.list(ctx, "SELECT "+portfolioColumns+" FROM portfolios ORDER BY id")
}

// ListByUser returns a user's portfolios ordered by ID.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]domain.Portfolio, error) {
	return r.list(ctx, "SELECT "+portfolioColumns+" FROM portfolios WHERE user_id = ? ORDER BY id", userID)
}

func (r *Repository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Portfolio, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
