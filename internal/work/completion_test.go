package work

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionTracker_MarkAndGet(t *testing.T) {
	tracker := NewCompletionTracker()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &WorkItem{TypeID: "refresh", Subject: "4", Retries: 1}

	_, ok := tracker.GetCompletion("refresh", "4")
	assert.False(t, ok)

	tracker.MarkCompleted(item, at)
	c, ok := tracker.GetCompletion("refresh", "4")
	require.True(t, ok)
	assert.Equal(t, at, c.At)
	assert.Equal(t, 1, c.Retries)
	assert.False(t, c.Failed)

	tracker.MarkFailed(item, at.Add(time.Minute), errors.New("no rate"))
	c, _ = tracker.GetCompletion("refresh", "4")
	assert.True(t, c.Failed)
	assert.Equal(t, "no rate", c.Error)

	tracker.Clear("refresh", "4")
	_, ok = tracker.GetCompletion("refresh", "4")
	assert.False(t, ok)
}

func TestCompletionTracker_IsStale(t *testing.T) {
	tracker := NewCompletionTracker()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &WorkItem{TypeID: "refresh", Subject: "4"}

	assert.True(t, tracker.IsStale("refresh", "4", time.Hour, now), "never completed")

	tracker.MarkCompleted(item, now.Add(-30*time.Minute))
	assert.False(t, tracker.IsStale("refresh", "4", time.Hour, now))
	assert.True(t, tracker.IsStale("refresh", "4", 10*time.Minute, now))
	assert.True(t, tracker.IsStale("refresh", "4", 0, now), "zero interval")

	tracker.MarkFailed(item, now, errors.New("boom"))
	assert.True(t, tracker.IsStale("refresh", "4", time.Hour, now), "failed run")
}
