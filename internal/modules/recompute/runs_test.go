package recompute

import (
	"context"
	"testing"
	"time"

	testhelpers "github.com/aristath/folio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRepository_RecordAndLatest(t *testing.T) {
	db := testhelpers.NewFolioDB(t)
	repo := NewRunRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	latest, err := repo.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, latest)

	start := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	from := testhelpers.D("2024-01-15")
	require.NoError(t, repo.Record(ctx, &Run{
		ID: "a", PortfolioID: 1, Generation: 1, Outcome: OutcomeFailed, Stage: StateReconciling,
		Symbols: []string{"AAPL", "MSFT"}, Error: "oversold", StartedAt: start, FinishedAt: start.Add(time.Second),
	}))
	require.NoError(t, repo.Record(ctx, &Run{
		ID: "b", PortfolioID: 1, Generation: 2, Outcome: OutcomeSucceeded, Stage: StateRebuilding,
		From: &from, Reconciled: 2, Rows: 18, StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute),
	}))

	latest, err = repo.Latest(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "b", latest.ID)
	assert.Equal(t, OutcomeSucceeded, latest.Outcome)
	require.NotNil(t, latest.From)
	assert.True(t, from.Equal(*latest.From))
	assert.Equal(t, 18, latest.Rows)
	assert.Empty(t, latest.Error)

	runs, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, []string{"AAPL", "MSFT"}, runs[1].Symbols)
	assert.Equal(t, "oversold", runs[1].Error)
	assert.Nil(t, runs[1].From)
}
