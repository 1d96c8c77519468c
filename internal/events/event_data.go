package events

import "time"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// MutationKind describes what happened to a ledger entry.
type MutationKind string

const (
	MutationCreated MutationKind = "created"
	MutationAmended MutationKind = "amended"
	MutationDeleted MutationKind = "deleted"
)

// TransactionChangedData is emitted when a transaction or dividend is
// created, amended or deleted. EarliestDate is the earliest trade date
// affected, old and new values included.
type TransactionChangedData struct {
	EarliestDate  time.Time    `json:"earliest_date"`
	Kind          MutationKind `json:"kind"`
	Symbols       []string     `json:"symbols"`
	PortfolioID   int64        `json:"portfolio_id"`
	TransactionID int64        `json:"transaction_id,omitempty"`
}

// EventType returns the event type for TransactionChangedData
func (d *TransactionChangedData) EventType() EventType {
	return TransactionChanged
}

// HoldingsReconciledData contains data for HoldingsReconciled events
type HoldingsReconciledData struct {
	RunID       string   `json:"run_id"`
	Symbols     []string `json:"symbols"`
	PortfolioID int64    `json:"portfolio_id"`
	Changed     int      `json:"changed"`
}

// EventType returns the event type for HoldingsReconciledData
func (d *HoldingsReconciledData) EventType() EventType {
	return HoldingsReconciled
}

// ValuationRebuiltData contains data for ValuationRebuilt events
type ValuationRebuiltData struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	RunID        string    `json:"run_id"`
	PortfolioID  int64     `json:"portfolio_id"`
	Rows         int       `json:"rows"`
	DegradedDays int       `json:"degraded_days"`
}

// EventType returns the event type for ValuationRebuiltData
func (d *ValuationRebuiltData) EventType() EventType {
	return ValuationRebuilt
}

// RecomputeFailedData contains data for RecomputeFailed events
type RecomputeFailedData struct {
	RunID       string `json:"run_id"`
	Stage       string `json:"stage"`
	Symbol      string `json:"symbol,omitempty"`
	Error       string `json:"error"`
	PortfolioID int64  `json:"portfolio_id"`
	Integrity   bool   `json:"integrity"`
	Retrying    bool   `json:"retrying"`
}

// EventType returns the event type for RecomputeFailedData
func (d *RecomputeFailedData) EventType() EventType {
	return RecomputeFailed
}

// MarketDataRefreshedData contains data for MarketDataRefreshed events
type MarketDataRefreshedData struct {
	Symbol string `json:"symbol"`
	Source string `json:"source"`
	Stale  bool   `json:"stale"`
}

// EventType returns the event type for MarketDataRefreshedData
func (d *MarketDataRefreshedData) EventType() EventType {
	return MarketDataRefreshed
}
