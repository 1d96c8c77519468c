// Package ledger stores the source-of-truth transaction and dividend log
// together with the securities registry it references.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SecurityRepository handles the securities registry.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "security").Logger(),
	}
}

// GetSecurity returns the registered security, or nil.
func (r *SecurityRepository) GetSecurity(ctx context.Context, symbol string) (*domain.Security, error) {
	return getSecurity(ctx, r.db, symbol)
}

func getSecurity(ctx context.Context, q execer, symbol string) (*domain.Security, error) {
	var s domain.Security
	var class string
	err := q.QueryRowContext(ctx,
		"SELECT symbol, name, currency, market, class FROM securities WHERE symbol = ?", symbol,
	).Scan(&s.Symbol, &s.Name, &s.Currency, &s.Market, &class)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", symbol, err)
	}
	s.Class = domain.AssetClass(class)
	return &s, nil
}

// List returns every registered security ordered by symbol.
func (r *SecurityRepository) List(ctx context.Context) ([]domain.Security, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT symbol, name, currency, market, class FROM securities ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		var s domain.Security
		var class string
		if err := rows.Scan(&s.Symbol, &s.Name, &s.Currency, &s.Market, &class); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		s.Class = domain.AssetClass(class)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ensure registers sec unless the symbol is already known and returns the
// stored entry. An existing registration is never overwritten.
func (r *SecurityRepository) ensure(ctx context.Context, q execer, sec domain.Security) (*domain.Security, bool, error) {
	existing, err := getSecurity(ctx, q, sec.Symbol)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	if sec.Class == "" {
		sec.Class = domain.AssetEquity
	}
	if sec.Name == "" {
		sec.Name = sec.Symbol
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO securities (symbol, name, currency, market, class) VALUES (?, ?, ?, ?, ?)",
		sec.Symbol, sec.Name, sec.Currency, sec.Market, string(sec.Class),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to register security %s: %w", sec.Symbol, err)
	}
	r.log.Info().
		Str("symbol", sec.Symbol).
		Str("currency", sec.Currency).
		Str("market", sec.Market).
		Msg("Registered security")
	return &sec, true, nil
}
