package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/services"
	testhelpers "github.com/aristath/folio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
	assert.NoError(t, s.AddJob("0 30 22 * * *", &countingJob{}))
}

func TestScheduler_RunsJobsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("ignored")}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RunNowReturnsJobError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("boom")}
	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, int32(1), job.runs.Load())
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RefreshMany(ctx context.Context, f services.Filter, scope services.Scope) ([]services.RefreshResult, error) {
	args := m.Called(ctx, f, scope)
	return args.Get(0).([]services.RefreshResult), args.Error(1)
}

func TestRefreshJob_RefreshesAllPortfoliosWithoutForce(t *testing.T) {
	refresher := &mockRefresher{}
	refresher.On("RefreshMany", mock.Anything, services.Filter{All: true}, services.Scope{}).
		Return([]services.RefreshResult{{PortfolioID: 1, Stale: []string{"AAPL"}}}, nil)

	job := NewRefreshJob(refresher, time.Minute, zerolog.Nop())
	assert.Equal(t, "refresh_portfolios", job.Name())
	require.NoError(t, job.Run())
	refresher.AssertExpectations(t)
}

func TestRefreshJob_PropagatesError(t *testing.T) {
	refresher := &mockRefresher{}
	refresher.On("RefreshMany", mock.Anything, mock.Anything, mock.Anything).
		Return([]services.RefreshResult{}, domain.ErrUnscoped)

	job := NewRefreshJob(refresher, 0, zerolog.Nop())
	assert.ErrorIs(t, job.Run(), domain.ErrUnscoped)
}

func TestWALCheckpointJob_SkipsNilDatabases(t *testing.T) {
	db := testhelpers.NewFolioDB(t)
	job := NewWALCheckpointJob(zerolog.Nop(), db, nil)
	assert.Equal(t, "wal_checkpoint", job.Name())
	assert.NoError(t, job.Run())
}
