package usecase

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestComputeWindowUsesDelayWhenEmpty(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 25, 12, 0, 0, 0, time.UTC)
	w := ComputeWindow(now, time.Hour, time.Time{})
	assert.Equal(t, now.Add(-time.Hour), w.Start)
	assert.Equal(t, now, w.End)
}

func TestComputeWindowUsesLatestLocal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 25, 12, 0, 0, 0, time.UTC)
	latest := now.Add(-10 * time.Minute)
	w := ComputeWindow(now, 30*time.Minute, latest)
	assert.Equal(t, latest, w.Start)
}

func TestComputeWindowClampsFutureLatest(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 25, 12, 0, 0, 0, time.UTC)
	w := ComputeWindow(now, time.Hour, now.Add(3*time.Hour))
	assert.Equal(t, now, w.Start)
	assert.Equal(t, now, w.End)
}

func TestComputeWindowMonotonic(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC))
	latest := time.Time{}
	prev := ComputeWindow(clock.Now(), 30*time.Minute, latest)

	for i := 0; i < 50; i++ {
		clock.Advance(7 * time.Minute)
		if i%3 == 0 {
			latest = clock.Now().Add(-2 * time.Minute)
		}
		w := ComputeWindow(clock.Now(), 30*time.Minute, latest)

		assert.False(t, w.Start.After(w.End), "start after end at step %d", i)
		assert.False(t, w.Start.Before(prev.Start), "start moved backwards at step %d", i)
		assert.False(t, w.End.Before(prev.End), "end moved backwards at step %d", i)
		prev = w
	}
}
