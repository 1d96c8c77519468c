package clientdata

import "time"

// TTL constants for different response types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Historic daily data for closed dates does not change.
	TTLClosedHistory = 30 * 24 * time.Hour

	// History ranges that include today may still gain a close.
	TTLOpenHistory = 6 * time.Hour

	// Event lists (dividends, splits) are announced ahead of time.
	TTLEvents = 24 * time.Hour

	// Latest quotes.
	TTLQuote = 10 * time.Minute

	// Symbol lookups rarely change.
	TTLExists = 7 * 24 * time.Hour
)

// HistoryTTL picks the TTL for a history response ending on to.
func HistoryTTL(to, now time.Time) time.Duration {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if to.Before(today) {
		return TTLClosedHistory
	}
	return TTLOpenHistory
}
