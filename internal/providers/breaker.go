package providers

import (
	"sync"
	"time"
)

// breaker pauses a provider after a run of consecutive transient failures.
// While open the provider is skipped. Once the cooldown has passed a single
// trial call is let through: a success closes the breaker, a failure opens it
// for another cooldown. Other callers keep skipping the provider while the
// trial is in flight.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
	trial     bool
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// allow reports whether a call may go through. A true result while the
// breaker is half-open claims the trial slot.
func (b *breaker) allow() bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.trial || b.now().Before(b.openUntil) {
		return false
	}
	b.trial = true
	return true
}

// success closes the breaker and resets the failure streak. Any answer from
// the provider counts, including not-found.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
	b.trial = false
}

// release gives back a claimed trial slot without a verdict.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}

// failure records a transient failure and reports whether the breaker tripped.
func (b *breaker) failure() bool {
	if b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trial {
		b.trial = false
		b.failures = 0
		b.openUntil = b.now().Add(b.cooldown)
		return true
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		b.failures = 0
		return true
	}
	return false
}
