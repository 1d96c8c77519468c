package work

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the processor. Zero fields take the package defaults.
type Config struct {
	Workers      int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = WorkTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = RetryBackoff
	}
	return c
}

// Stats is a point-in-time view of the queues.
type Stats struct {
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Running  int `json:"running"`
}

// Processor executes enqueued work items on a fixed pool of workers.
type Processor struct {
	registry   *Registry
	completion *CompletionTracker
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	pending    []*WorkItem          // ready items, priority then FIFO
	retryQueue []*WorkItem          // failed items waiting for NotBefore
	queued     map[string]*WorkItem // pending or retrying items by work ID
	inFlight   map[string]*WorkItem // running items by lane
	idle       chan struct{}        // closed while nothing is queued or running
	started    bool
}

// NewProcessor creates a new work processor. Call Start to begin executing.
func NewProcessor(registry *Registry, completion *CompletionTracker, cfg Config, log zerolog.Logger) *Processor {
	cfg = cfg.withDefaults()
	idle := make(chan struct{})
	close(idle)
	return &Processor{
		registry:   registry,
		completion: completion,
		cfg:        cfg,
		log:        log.With().Str("service", "work_processor").Logger(),
		now:        time.Now,
		wake:       make(chan struct{}, cfg.Workers),
		queued:     make(map[string]*WorkItem),
		inFlight:   make(map[string]*WorkItem),
		idle:       idle,
	}
}

// Start launches the workers. Work enqueued before Start waits in the queue.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info().Int("workers", p.cfg.Workers).Msg("Work processor started")
	p.signal()
}

// Stop cancels running work and waits for the workers to exit. Queued items
// are dropped.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.log.Info().Msg("Work processor stopped")
}

// Enqueue schedules typeID for subject. It reports false when the same work
// is already queued, in which case nothing changes.
func (p *Processor) Enqueue(typeID, subject string) (bool, error) {
	wt := p.registry.Get(typeID)
	if wt == nil {
		return false, fmt.Errorf("unknown work type: %s", typeID)
	}

	item := NewWorkItem(wt, subject, p.now())

	p.mu.Lock()
	if existing, ok := p.queued[item.ID]; ok {
		// A waiting retry is superseded by a fresh request.
		if existing.Retries > 0 {
			p.removeRetry(existing)
			p.insertPending(wt, item)
			p.mu.Unlock()
			p.signal()
			return true, nil
		}
		p.mu.Unlock()
		return false, nil
	}
	p.insertPending(wt, item)
	p.mu.Unlock()

	p.log.Debug().Str("work", item.ID).Msg("Work enqueued")
	p.signal()
	return true, nil
}

// IsQueued reports whether work for typeID and subject is waiting to run.
func (p *Processor) IsQueued(typeID, subject string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.queued[makeKey(typeID, subject)]
	return ok
}

// Stats returns queue sizes.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Pending: len(p.pending), Retrying: len(p.retryQueue), Running: len(p.inFlight)}
}

// WaitIdle blocks until nothing is queued, retrying or running, or ctx ends.
func (p *Processor) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}

		// Work may have been enqueued between the close and this check.
		p.mu.Lock()
		done := p.isIdleLocked()
		p.mu.Unlock()
		if done {
			return nil
		}
	}
}

func (p *Processor) signal() {
	for i := 0; i < p.cfg.Workers; i++ {
		select {
		case p.wake <- struct{}{}:
		default:
			return
		}
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}
		item, wt, wait := p.next()
		if item != nil {
			p.execute(item, wt)
			continue
		}

		var timer *time.Timer
		var due <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			due = timer.C
		}
		select {
		case <-p.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-p.wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// next pops the first runnable item. When nothing is runnable it returns the
// delay until the earliest retry becomes due, or zero if none is waiting.
func (p *Processor) next() (*WorkItem, *WorkType, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.retryQueue); {
		item := p.retryQueue[i]
		if now.Before(item.NotBefore) {
			i++
			continue
		}
		p.retryQueue = append(p.retryQueue[:i], p.retryQueue[i+1:]...)
		p.insertPending(p.registry.Get(item.TypeID), item)
	}

	for i, item := range p.pending {
		if _, busy := p.inFlight[item.lane()]; busy {
			continue
		}
		p.pending = append(p.pending[:i], p.pending[i+1:]...)
		delete(p.queued, item.ID)
		p.inFlight[item.lane()] = item
		return item, p.registry.Get(item.TypeID), 0
	}

	var wait time.Duration
	for _, item := range p.retryQueue {
		if d := item.NotBefore.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return nil, nil, wait
}

func (p *Processor) execute(item *WorkItem, wt *WorkType) {
	timeout := p.cfg.Timeout
	if wt.Timeout > 0 {
		timeout = wt.Timeout
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	start := p.now()
	err := safeExecute(ctx, wt, item.Subject)
	cancel()

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("work %s timed out after %s: %w", item.ID, timeout, err)
	}
	p.finish(item, wt, err, p.now().Sub(start))
}

func safeExecute(ctx context.Context, wt *WorkType, subject string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work %s panicked: %v", wt.ID, r)
		}
	}()
	return wt.Execute(ctx, subject)
}

func (p *Processor) finish(item *WorkItem, wt *WorkType, err error, took time.Duration) {
	p.mu.Lock()
	delete(p.inFlight, item.lane())

	switch {
	case err == nil:
		p.completion.MarkCompleted(item, p.now())
		p.log.Debug().Str("work", item.ID).Dur("duration", took).Msg("Work completed")

	case p.ctx.Err() != nil:
		p.log.Warn().Err(err).Str("work", item.ID).Msg("Work cancelled")

	case wt.Retryable != nil && wt.Retryable(err) && item.Retries < p.cfg.MaxRetries:
		if _, requeued := p.queued[item.ID]; requeued {
			// A newer request for the same work is already waiting.
			break
		}
		item.Retries++
		item.NotBefore = p.now().Add(p.backoff(item.Retries))
		p.retryQueue = append(p.retryQueue, item)
		p.queued[item.ID] = item
		p.log.Warn().Err(err).
			Str("work", item.ID).
			Int("retries", item.Retries).
			Time("not_before", item.NotBefore).
			Msg("Work failed, retry scheduled")

	default:
		p.completion.MarkFailed(item, p.now(), err)
		p.log.Error().Err(err).
			Str("work", item.ID).
			Int("retries", item.Retries).
			Msg("Work failed")
	}

	p.markIdleLocked()
	p.mu.Unlock()
	p.signal()
}

func (p *Processor) backoff(retries int) time.Duration {
	d := p.cfg.RetryBackoff << (retries - 1)
	if d <= 0 || d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// insertPending places item after every queued item of equal or higher
// priority. Must be called with the lock held.
func (p *Processor) insertPending(wt *WorkType, item *WorkItem) {
	select {
	case <-p.idle:
		p.idle = make(chan struct{})
	default:
	}
	i := sort.Search(len(p.pending), func(i int) bool {
		return p.registry.Get(p.pending[i].TypeID).Priority < wt.Priority
	})
	p.pending = append(p.pending, nil)
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = item
	p.queued[item.ID] = item
}

func (p *Processor) removeRetry(item *WorkItem) {
	for i, r := range p.retryQueue {
		if r == item {
			p.retryQueue = append(p.retryQueue[:i], p.retryQueue[i+1:]...)
			break
		}
	}
	delete(p.queued, item.ID)
}

func (p *Processor) isIdleLocked() bool {
	return len(p.pending) == 0 && len(p.retryQueue) == 0 && len(p.inFlight) == 0
}

func (p *Processor) markIdleLocked() {
	if !p.isIdleLocked() {
		return
	}
	select {
	case <-p.idle:
	default:
		close(p.idle)
	}
}
