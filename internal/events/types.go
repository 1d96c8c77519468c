// Package events provides in-process event publication for engine state changes.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Ledger mutations
	TransactionChanged EventType = "TRANSACTION_CHANGED"

	// Engine progress
	HoldingsReconciled  EventType = "HOLDINGS_RECONCILED"
	ValuationRebuilt    EventType = "VALUATION_REBUILT"
	RecomputeFailed     EventType = "RECOMPUTE_FAILED"
	MarketDataRefreshed EventType = "MARKET_DATA_REFRESHED"
)

// AllTypes lists every event type in emission order of a typical cycle.
var AllTypes = []EventType{
	TransactionChanged,
	MarketDataRefreshed,
	HoldingsReconciled,
	ValuationRebuilt,
	RecomputeFailed,
}

// Event is a published event with typed data.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
}
