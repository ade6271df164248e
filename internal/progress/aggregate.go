package progress

import (
	"math"
	"time"

	"vigil-backend/internal/models"
)

// epsilon absorbs float noise when comparing recomputed totals.
const epsilon = 1e-6

type Snapshot struct {
	TotalWatchedSeconds  float64
	CompletionPercentage float64
	DurationMissing      bool
	Intervals            []Interval
}

// Compute derives watched time for a (user, lesson) pair from its whole event log,
// pooled across every session the pair ever had.
func Compute(events []models.ViewingEvent, lesson *models.VideoLesson) Snapshot {
	duration := lesson.DurationSeconds

	var all []Interval
	for _, group := range GroupBySession(events) {
		all = append(all, SessionIntervals(group, duration)...)
	}
	merged := Merge(all)

	snap := Snapshot{
		TotalWatchedSeconds: Total(merged, duration),
		Intervals:           merged,
	}

	if duration <= 0 {
		snap.DurationMissing = true
		return snap
	}

	snap.CompletionPercentage = math.Min(100, snap.TotalWatchedSeconds/duration*100)
	return snap
}

// Apply folds a snapshot into the stored progress row. Totals never move
// backwards: a lower recomputation is reported through regressed and the stored
// values are kept.
func Apply(prev models.VideoProgress, snap Snapshot, minCompletion float64, now time.Time) (next models.VideoProgress, regressed bool) {
	next = prev

	if snap.TotalWatchedSeconds+epsilon < prev.TotalWatchedSeconds ||
		snap.CompletionPercentage+epsilon < prev.CompletionPercentage {
		regressed = true
	}

	next.TotalWatchedSeconds = math.Max(prev.TotalWatchedSeconds, snap.TotalWatchedSeconds)
	next.CompletionPercentage = math.Max(prev.CompletionPercentage, snap.CompletionPercentage)
	next.IsCompleted = next.CompletionPercentage >= minCompletion && !snap.DurationMissing

	if next.FirstWatchStarted == nil {
		started := now
		next.FirstWatchStarted = &started
	}
	updated := now
	next.LastWatchUpdated = &updated

	return next, regressed
}
