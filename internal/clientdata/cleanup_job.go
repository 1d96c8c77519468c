package clientdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const cleanupTimeout = 5 * time.Minute

// CleanupJob purges expired provider responses.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates a new client data cleanup job.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}

// Run purges expired entries and logs what is left.
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	deleted, err := j.repo.Purge(ctx)
	if err != nil {
		return err
	}

	ev := j.log.Info()
	var total int64
	for table, n := range deleted {
		ev = ev.Int64(table, n)
		total += n
	}
	if stats, err := j.repo.Stats(ctx); err == nil {
		var fresh int64
		for _, st := range stats {
			fresh += st.Fresh
		}
		ev = ev.Int64("remaining", fresh)
	}
	ev.Int64("deleted", total).Msg("Client data cleanup completed")
	return nil
}
