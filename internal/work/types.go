package work

import (
	"context"
	"time"
)

// Defaults applied when Config leaves a field zero.
const (
	// WorkTimeout is the maximum duration a work item can run before being cancelled.
	WorkTimeout = 5 * time.Minute
	// MaxRetries is the maximum number of times a failed work item will be retried.
	MaxRetries = 5
	// RetryBackoff is the delay before the first retry. It doubles per attempt.
	RetryBackoff = 2 * time.Second
	// MaxBackoff caps the retry delay.
	MaxBackoff = 5 * time.Minute
)

// Priority defines the execution priority of work types.
type Priority int

const (
	// PriorityLow is for non-urgent work (cache cleanup).
	PriorityLow Priority = iota
	// PriorityMedium is for scheduled background work (refreshes).
	PriorityMedium
	// PriorityHigh is for work triggered by ledger mutations.
	PriorityHigh
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// WorkType defines a type of work that can be executed.
// Work types are registered once and can generate multiple work items.
type WorkType struct {
	// Execute runs the work for one subject.
	Execute func(ctx context.Context, subject string) error
	// Retryable classifies a failure. Nil means no failure is retried.
	Retryable func(err error) bool
	// ID is the unique identifier, e.g. "recompute:portfolio".
	ID string
	// Timeout overrides the processor's per-item timeout when non-zero.
	Timeout  time.Duration
	Priority Priority
}

// WorkItem is a single pending or running execution of a work type.
type WorkItem struct {
	CreatedAt time.Time
	NotBefore time.Time
	ID        string
	TypeID    string
	Subject   string
	Retries   int
}

// NewWorkItem creates a work item for wt and subject.
func NewWorkItem(wt *WorkType, subject string, now time.Time) *WorkItem {
	return &WorkItem{
		ID:        makeKey(wt.ID, subject),
		TypeID:    wt.ID,
		Subject:   subject,
		CreatedAt: now,
	}
}

// lane is the exclusivity key: items sharing a lane run one at a time.
// Global work (no subject) is exclusive per work type.
func (w *WorkItem) lane() string {
	if w.Subject == "" {
		return w.TypeID
	}
	return w.Subject
}

// makeKey creates a unique key for a work type and subject combination.
func makeKey(typeID, subject string) string {
	if subject == "" {
		return typeID
	}
	return typeID + ":" + subject
}
