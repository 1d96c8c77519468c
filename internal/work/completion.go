package work

import (
	"sync"
	"time"
)

// Completion is the outcome of the last finished run of a work item.
type Completion struct {
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
	Retries int       `json:"retries"`
	Failed  bool      `json:"failed"`
}

// CompletionTracker records when work items last finished and how.
type CompletionTracker struct {
	completions map[string]Completion // key: "typeID:subject"
	mu          sync.RWMutex
}

// NewCompletionTracker creates a new completion tracker.
func NewCompletionTracker() *CompletionTracker {
	return &CompletionTracker{
		completions: make(map[string]Completion),
	}
}

// MarkCompleted records a successful run of item at the given time.
func (t *CompletionTracker) MarkCompleted(item *WorkItem, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completions[makeKey(item.TypeID, item.Subject)] = Completion{At: at, Retries: item.Retries}
}

// MarkFailed records a run of item that gave up with err.
func (t *CompletionTracker) MarkFailed(item *WorkItem, at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completions[makeKey(item.TypeID, item.Subject)] = Completion{
		At:      at,
		Retries: item.Retries,
		Failed:  true,
		Error:   err.Error(),
	}
}

// GetCompletion returns the last outcome for a work type/subject combination
// and whether one exists.
func (t *CompletionTracker) GetCompletion(typeID, subject string) (Completion, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, exists := t.completions[makeKey(typeID, subject)]
	return c, exists
}

// IsStale returns true if the work has never succeeded or its last success
// is older than interval. A zero interval is always stale.
func (t *CompletionTracker) IsStale(typeID, subject string, interval time.Duration, now time.Time) bool {
	if interval == 0 {
		return true
	}

	c, exists := t.GetCompletion(typeID, subject)
	if !exists || c.Failed {
		return true
	}
	return now.Sub(c.At) > interval
}

// Clear removes the completion record for a specific work type/subject.
func (t *CompletionTracker) Clear(typeID, subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.completions, makeKey(typeID, subject))
}
