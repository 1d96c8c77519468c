package testing

import (
	"testing"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// D parses a YYYY-MM-DD date. Panics on malformed input.
func D(s string) time.Time {
	return domain.MustParseDate(s)
}

// Dec parses a decimal literal. Panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewChain builds a provider chain over the given providers in order.
func NewChain(t *testing.T, ps ...providers.Provider) *providers.Chain {
	t.Helper()
	order := make([]string, len(ps))
	for i, p := range ps {
		order[i] = p.Name()
	}
	chain, err := providers.NewChain(providers.ChainConfig{Order: order, Timeout: time.Second}, ps, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to build provider chain: %v", err)
	}
	return chain
}

// SeedPortfolio inserts a portfolio and returns its ID.
func SeedPortfolio(t *testing.T, db *database.DB, name, baseCurrency string) int64 {
	t.Helper()
	res, err := db.Exec(
		"INSERT INTO portfolios (user_id, name, base_currency, created_at) VALUES (?, ?, ?, ?)",
		1, name, baseCurrency, time.Now().Unix(),
	)
	if err != nil {
		t.Fatalf("Failed to seed portfolio: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedSecurity registers a security.
func SeedSecurity(t *testing.T, db *database.DB, symbol, currency string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT OR REPLACE INTO securities (symbol, name, currency, market, class) VALUES (?, ?, ?, ?, ?)",
		symbol, symbol, currency, providers.MarketForSymbol(symbol), string(domain.AssetEquity),
	)
	if err != nil {
		t.Fatalf("Failed to seed security %s: %v", symbol, err)
	}
}

// SeedTransaction inserts a transaction priced in its own currency and
// returns its ID.
func SeedTransaction(t *testing.T, db *database.DB, portfolioID int64, typ domain.TransactionType, symbol, qty, price, currency, date string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO transactions
		(portfolio_id, type, symbol, quantity, price, currency, trade_date, original_price, original_currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		portfolioID, string(typ), symbol, qty, price, currency, date, price, currency, time.Now().Unix(),
	)
	if err != nil {
		t.Fatalf("Failed to seed transaction: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedDividend inserts a dividend.
func SeedDividend(t *testing.T, db *database.DB, portfolioID int64, symbol, amount, currency, date string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO dividends (portfolio_id, symbol, amount, currency, pay_date) VALUES (?, ?, ?, ?, ?)",
		portfolioID, symbol, amount, currency, date,
	)
	if err != nil {
		t.Fatalf("Failed to seed dividend: %v", err)
	}
}

// SeedRate records an FX rate.
func SeedRate(t *testing.T, db *database.DB, from, to, date, rate string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT OR IGNORE INTO currency_rates (from_currency, to_currency, date, rate, source, fetched_at) VALUES (?, ?, ?, ?, ?, ?)",
		from, to, date, rate, "seed", time.Now().Unix(),
	)
	if err != nil {
		t.Fatalf("Failed to seed rate: %v", err)
	}
}

// SeedPrice records a daily closing price.
func SeedPrice(t *testing.T, db *database.DB, symbol, date, price string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT OR REPLACE INTO price_history (symbol, date, price, source) VALUES (?, ?, ?, ?)",
		symbol, date, price, "seed",
	)
	if err != nil {
		t.Fatalf("Failed to seed price: %v", err)
	}
}

// SeedCoverage marks price history for symbol as fetched for [from, to].
func SeedCoverage(t *testing.T, db *database.DB, symbol, from, to string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT OR REPLACE INTO price_history_coverage (symbol, from_date, to_date, fetched_at) VALUES (?, ?, ?, ?)",
		symbol, from, to, time.Now().Unix(),
	)
	if err != nil {
		t.Fatalf("Failed to seed coverage: %v", err)
	}
}
