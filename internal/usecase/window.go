package usecase

import (
	"time"

	"HydrophoneStreamer/internal/domain"
)

// ComputeWindow returns the query range of one cycle. Start is the later of
// now-delay and the newest local recording, and never passes End.
func ComputeWindow(now time.Time, delay time.Duration, latest time.Time) domain.Window {
	now = now.UTC()
	start := now.Add(-delay)
	if latest.After(start) {
		start = latest.UTC()
	}
	if start.After(now) {
		start = now
	}
	return domain.Window{Start: start, End: now}
}
