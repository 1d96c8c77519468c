package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func newTestProcessor(t *testing.T, workers int, types ...*WorkType) (*Processor, *CompletionTracker) {
	t.Helper()
	registry := NewRegistry()
	for _, wt := range types {
		registry.Register(wt)
	}
	completion := NewCompletionTracker()
	p := NewProcessor(registry, completion, Config{
		Workers:      workers,
		Timeout:      time.Second,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(p.Stop)
	return p, completion
}

func waitIdle(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitIdle(ctx))
}

func TestProcessor_ExecutesEnqueuedWork(t *testing.T) {
	var got []string
	var mu sync.Mutex
	p, completion := newTestProcessor(t, 2, &WorkType{
		ID: "recompute",
		Execute: func(ctx context.Context, subject string) error {
			mu.Lock()
			got = append(got, subject)
			mu.Unlock()
			return nil
		},
	})
	p.Start(context.Background())

	queued, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	assert.True(t, queued)
	waitIdle(t, p)

	assert.Equal(t, []string{"1"}, got)
	c, ok := completion.GetCompletion("recompute", "1")
	require.True(t, ok)
	assert.False(t, c.Failed)
}

func TestProcessor_UnknownWorkType(t *testing.T) {
	p, _ := newTestProcessor(t, 1)
	_, err := p.Enqueue("nope", "1")
	assert.Error(t, err)
}

func TestProcessor_EnqueueIsIdempotentWhilePending(t *testing.T) {
	var runs atomic.Int32
	p, _ := newTestProcessor(t, 1, &WorkType{
		ID: "recompute",
		Execute: func(ctx context.Context, subject string) error {
			runs.Add(1)
			return nil
		},
	})

	// Not started: everything stays queued.
	first, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	second, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, p.IsQueued("recompute", "1"))
	assert.Equal(t, 1, p.Stats().Pending)

	p.Start(context.Background())
	waitIdle(t, p)
	assert.Equal(t, int32(1), runs.Load())
}

func TestProcessor_EnqueueDuringRunSchedulesOneFollowUp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var runs atomic.Int32
	p, _ := newTestProcessor(t, 4, &WorkType{
		ID: "recompute",
		Execute: func(ctx context.Context, subject string) error {
			if runs.Add(1) == 1 {
				started <- struct{}{}
				<-release
			}
			return nil
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	<-started

	for i := 0; i < 5; i++ {
		_, err := p.Enqueue("recompute", "1")
		require.NoError(t, err)
	}
	close(release)
	waitIdle(t, p)

	assert.Equal(t, int32(2), runs.Load())
}

func TestProcessor_SameSubjectNeverRunsConcurrently(t *testing.T) {
	var active, maxActive atomic.Int32
	track := func(ctx context.Context, subject string) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	}
	p, _ := newTestProcessor(t, 4,
		&WorkType{ID: "reconcile", Execute: track},
		&WorkType{ID: "rebuild", Execute: track},
	)
	p.Start(context.Background())

	_, err := p.Enqueue("reconcile", "7")
	require.NoError(t, err)
	_, err = p.Enqueue("rebuild", "7")
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestProcessor_DifferentSubjectsRunInParallel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	p, _ := newTestProcessor(t, 2, &WorkType{
		ID: "recompute",
		Execute: func(ctx context.Context, subject string) error {
			wg.Done()
			// Both items must be in flight at once for this to return.
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	_, err = p.Enqueue("recompute", "2")
	require.NoError(t, err)
	waitIdle(t, p)
}

func TestProcessor_RetriesRetryableFailures(t *testing.T) {
	var runs atomic.Int32
	p, completion := newTestProcessor(t, 1, &WorkType{
		ID:        "recompute",
		Retryable: func(err error) bool { return errors.Is(err, errFlaky) },
		Execute: func(ctx context.Context, subject string) error {
			if runs.Add(1) < 3 {
				return errFlaky
			}
			return nil
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, int32(3), runs.Load())
	c, ok := completion.GetCompletion("recompute", "1")
	require.True(t, ok)
	assert.False(t, c.Failed)
	assert.Equal(t, 2, c.Retries)
}

func TestProcessor_GivesUpAfterMaxRetries(t *testing.T) {
	var runs atomic.Int32
	p, completion := newTestProcessor(t, 1, &WorkType{
		ID:        "recompute",
		Retryable: func(error) bool { return true },
		Execute: func(ctx context.Context, subject string) error {
			runs.Add(1)
			return errFlaky
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, int32(4), runs.Load())
	c, ok := completion.GetCompletion("recompute", "1")
	require.True(t, ok)
	assert.True(t, c.Failed)
	assert.Equal(t, "flaky", c.Error)
}

func TestProcessor_PermanentFailureIsNotRetried(t *testing.T) {
	var runs atomic.Int32
	p, completion := newTestProcessor(t, 1, &WorkType{
		ID:        "recompute",
		Retryable: func(err error) bool { return errors.Is(err, errFlaky) },
		Execute: func(ctx context.Context, subject string) error {
			runs.Add(1)
			return errors.New("oversold")
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, int32(1), runs.Load())
	c, _ := completion.GetCompletion("recompute", "1")
	assert.True(t, c.Failed)
}

func TestProcessor_TimeoutCancelsWork(t *testing.T) {
	p, completion := newTestProcessor(t, 1, &WorkType{
		ID:      "slow",
		Timeout: 20 * time.Millisecond,
		Execute: func(ctx context.Context, subject string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("slow", "")
	require.NoError(t, err)
	waitIdle(t, p)

	c, ok := completion.GetCompletion("slow", "")
	require.True(t, ok)
	assert.True(t, c.Failed)
	assert.Contains(t, c.Error, "timed out")
}

func TestProcessor_PanicIsReportedAsFailure(t *testing.T) {
	p, completion := newTestProcessor(t, 1, &WorkType{
		ID: "boom",
		Execute: func(ctx context.Context, subject string) error {
			panic("bad state")
		},
	})
	p.Start(context.Background())

	_, err := p.Enqueue("boom", "3")
	require.NoError(t, err)
	waitIdle(t, p)

	c, _ := completion.GetCompletion("boom", "3")
	assert.True(t, c.Failed)
	assert.Contains(t, c.Error, "panicked")
}

func TestProcessor_HigherPriorityRunsFirst(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(id string) func(context.Context, string) error {
		return func(ctx context.Context, subject string) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}
	}
	p, _ := newTestProcessor(t, 1,
		&WorkType{ID: "cleanup", Priority: PriorityLow, Execute: record("cleanup")},
		&WorkType{ID: "refresh", Priority: PriorityMedium, Execute: record("refresh")},
		&WorkType{ID: "recompute", Priority: PriorityHigh, Execute: record("recompute")},
	)

	for _, id := range []string{"cleanup", "refresh", "recompute"} {
		_, err := p.Enqueue(id, "")
		require.NoError(t, err)
	}
	p.Start(context.Background())
	waitIdle(t, p)

	assert.Equal(t, []string{"recompute", "refresh", "cleanup"}, order)
}

func TestProcessor_WaitIdleHonoursContext(t *testing.T) {
	p, _ := newTestProcessor(t, 1, &WorkType{
		ID:      "recompute",
		Execute: func(ctx context.Context, subject string) error { return nil },
	})
	_, err := p.Enqueue("recompute", "1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestProcessor_StopCancelsRunningWork(t *testing.T) {
	started := make(chan struct{})
	p, _ := newTestProcessor(t, 1, &WorkType{
		ID: "slow",
		Execute: func(ctx context.Context, subject string) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	p.Start(context.Background())
	_, err := p.Enqueue("slow", "")
	require.NoError(t, err)
	<-started

	stopped := make(chan struct{})
	go func() { p.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
