package scheduler

import (
	"context"
	"time"

	"github.com/aristath/folio/internal/services"
	"github.com/rs/zerolog"
)

// BulkRefresher refreshes a set of portfolios.
type BulkRefresher interface {
	RefreshMany(ctx context.Context, f services.Filter, scope services.Scope) ([]services.RefreshResult, error)
}

// RefreshJob refreshes market data for every portfolio without forcing.
type RefreshJob struct {
	refresher BulkRefresher
	timeout   time.Duration
	log       zerolog.Logger
}

// NewRefreshJob creates a new RefreshJob. Each run is bounded by timeout.
func NewRefreshJob(refresher BulkRefresher, timeout time.Duration, log zerolog.Logger) *RefreshJob {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &RefreshJob{
		refresher: refresher,
		timeout:   timeout,
		log:       log.With().Str("job", "refresh_portfolios").Logger(),
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "refresh_portfolios"
}

// Run executes the refresh job
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	results, err := j.refresher.RefreshMany(ctx, services.Filter{All: true}, services.Scope{})

	stale, failed := 0, 0
	for _, r := range results {
		stale += len(r.Stale)
		failed += len(r.Failed)
	}
	j.log.Info().
		Int("portfolios", len(results)).
		Int("stale_quotes", stale).
		Int("failed", failed).
		Msg("Scheduled refresh completed")
	return err
}
