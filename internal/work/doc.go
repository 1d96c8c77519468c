// Package work runs background units of work on a bounded worker pool.
//
// Work types are registered once in a Registry. Callers enqueue a (type,
// subject) pair; the pair's work ID deduplicates the pending queue, so
// enqueueing the same work twice before it starts is a no-op. Items that
// share a subject never run concurrently, which gives every subject (a
// portfolio, in practice) a single writer. Failed items whose type
// classifies the error as retryable go back to the queue with exponential
// backoff until the retry budget is spent.
package work
