package clientdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJobName(t *testing.T) {
	job := NewCleanupJob(NewRepository(setupTestDB(t)), zerolog.Nop())
	assert.Equal(t, "client_data_cleanup", job.Name())
}

func TestCleanupJobRun(t *testing.T) {
	repo, db := newRepo(t, time.Now())
	job := NewCleanupJob(repo, zerolog.Nop())

	require.NoError(t, repo.Put(ctx, TableYahooChart, "expired", []byte(`"v"`), -time.Hour))
	require.NoError(t, repo.Put(ctx, TableYahooChart, "fresh", []byte(`"v"`), time.Hour))
	require.NoError(t, repo.Put(ctx, TableExchangeRate, "expired", []byte(`"v"`), -time.Hour))

	require.NoError(t, job.Run())

	var remaining int
	require.NoError(t, db.QueryRow("SELECT (SELECT COUNT(*) FROM yahoo_chart) + (SELECT COUNT(*) FROM exchangerate)").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestCleanupJobRunEmptyTables(t *testing.T) {
	job := NewCleanupJob(NewRepository(setupTestDB(t)), zerolog.Nop())
	assert.NoError(t, job.Run())
}
