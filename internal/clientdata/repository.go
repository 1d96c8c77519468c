// Package clientdata caches raw provider responses in client_data.db.
//
// Each provider owns one table. Entries carry an absolute expiry and are
// never served once it has passed; the cleanup job deletes them.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/database"
)

// Cache tables in client_data.db, one per provider.
const (
	TableExchangeRate = "exchangerate"
	TableYahooChart   = "yahoo_chart"
	TableEODHD        = "eodhd"
)

// AllTables lists every cache table.
var AllTables = []string{
	TableExchangeRate,
	TableYahooChart,
	TableEODHD,
}

// Table names are interpolated into SQL, so only these are accepted.
func validateTable(table string) error {
	for _, t := range AllTables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("invalid table name: %s", table)
}

// TableStats counts the entries of one cache table.
type TableStats struct {
	Fresh   int64 `json:"fresh"`
	Expired int64 `json:"expired"`
}

// Repository reads and writes cached responses.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Put stores body under key until now+ttl, replacing any previous entry.
func (r *Repository) Put(ctx context.Context, table, key string, body []byte, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`, table)
	if _, err := r.db.ExecContext(ctx, query, key, string(body), r.now().Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to cache %s/%s: %w", table, key, err)
	}
	return nil
}

// Fresh returns the cached body for key if it has not expired.
func (r *Repository) Fresh(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := validateTable(table); err != nil {
		return nil, false, err
	}
	var data string
	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ? AND expires_at > ?", table)
	err := r.db.QueryRowContext(ctx, query, key, r.now().Unix()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", table, key, err)
	}
	return []byte(data), true, nil
}

// Purge deletes every expired entry in one transaction and returns the
// number removed per table.
func (r *Repository) Purge(ctx context.Context) (map[string]int64, error) {
	cutoff := r.now().Unix()
	deleted := make(map[string]int64, len(AllTables))
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		for _, table := range AllTables {
			res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", table), cutoff)
			if err != nil {
				return fmt.Errorf("failed to purge %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted[table] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Stats counts fresh and expired entries per table.
func (r *Repository) Stats(ctx context.Context) (map[string]TableStats, error) {
	cutoff := r.now().Unix()
	out := make(map[string]TableStats, len(AllTables))
	for _, table := range AllTables {
		var st TableStats
		query := fmt.Sprintf(`SELECT
			COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
			FROM %s`, table)
		if err := r.db.QueryRowContext(ctx, query, cutoff, cutoff).Scan(&st.Fresh, &st.Expired); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = st
	}
	return out, nil
}
