package di

import (
	"fmt"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the recurring jobs.
// Jobs with an empty schedule are left out.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.RefreshService == nil {
		return fmt.Errorf("services must be initialized first")
	}

	container.Scheduler = scheduler.New(log)

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Schedule.Refresh, scheduler.NewRefreshJob(container.RefreshService, cfg.Schedule.RefreshTimeout, log)},
		{cfg.Schedule.ClientDataCleanup, clientdata.NewCleanupJob(container.ClientDataRepo, log)},
		{cfg.Schedule.WALCheckpoint, scheduler.NewWALCheckpointJob(log, container.Databases()...)},
	}

	registered := 0
	for _, j := range jobs {
		if j.schedule == "" {
			log.Debug().Str("job", j.job.Name()).Msg("Job disabled")
			continue
		}
		if err := container.Scheduler.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register %s job: %w", j.job.Name(), err)
		}
		registered++
	}

	log.Info().Int("jobs", registered).Msg("Jobs registered")
	return nil
}
