package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_HalfOpenLetsOneTrialThrough(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	b := newBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	assert.False(t, b.failure())
	assert.True(t, b.failure(), "second consecutive failure trips")
	assert.False(t, b.allow())

	now = now.Add(time.Minute)
	assert.True(t, b.allow(), "first caller after cooldown gets the trial")
	assert.False(t, b.allow(), "trial already in flight")

	assert.True(t, b.failure(), "failed trial reopens at once")
	assert.False(t, b.allow())

	now = now.Add(time.Minute)
	assert.True(t, b.allow())
	b.success()
	assert.True(t, b.allow())
	assert.True(t, b.allow(), "closed breaker lets everyone through")
}

func TestBreaker_ReleasedTrialCanBeRetried(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	b := newBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.failure())
	now = now.Add(time.Minute)
	assert.True(t, b.allow())
	b.release()
	assert.True(t, b.allow(), "abandoned trial frees the slot")
	assert.False(t, b.allow())
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b := newBreaker(2, time.Hour)
	assert.False(t, b.failure())
	b.success()
	assert.False(t, b.failure())
	assert.True(t, b.allow())
}

func TestBreaker_DisabledWithoutThreshold(t *testing.T) {
	b := newBreaker(0, time.Hour)
	for i := 0; i < 5; i++ {
		assert.False(t, b.failure())
	}
	assert.True(t, b.allow())
}
