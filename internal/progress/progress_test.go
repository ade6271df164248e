package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

type step struct {
	typ models.EventType
	ts  float64
}

func buildEvents(session uuid.UUID, startSeq int64, steps ...step) []models.ViewingEvent {
	events := make([]models.ViewingEvent, 0, len(steps))
	for i, s := range steps {
		events = append(events, models.ViewingEvent{
			ID:               uuid.New(),
			Seq:              startSeq + int64(i),
			SessionID:        session,
			EventType:        s.typ,
			TimestampInVideo: s.ts,
			IsTabVisible:     true,
			PlaybackRate:     1,
			Volume:           1,
		})
	}
	return events
}

func lesson(duration float64) *models.VideoLesson {
	return &models.VideoLesson{ID: uuid.New(), DurationSeconds: duration, MinCompletionPercent: 80, Weight: 1}
}

func TestCompute_OverlappingIntervalsUnion(t *testing.T) {
	events := buildEvents(uuid.New(), 1,
		step{models.EventPlay, 0},
		step{models.EventPause, 30},
		step{models.EventPlay, 20},
		step{models.EventPause, 50},
	)

	snap := Compute(events, lesson(100))
	if snap.TotalWatchedSeconds != 50 {
		t.Fatalf("expected 50 watched seconds, got %v", snap.TotalWatchedSeconds)
	}
	if snap.CompletionPercentage != 50 {
		t.Fatalf("expected 50%% completion, got %v", snap.CompletionPercentage)
	}
	if len(snap.Intervals) != 1 || snap.Intervals[0] != (Interval{0, 50}) {
		t.Fatalf("unexpected merged intervals: %+v", snap.Intervals)
	}
}

func TestCompute_DuplicateSubmissionIsIdempotent(t *testing.T) {
	session := uuid.New()
	batch := []step{
		{models.EventPlay, 0},
		{models.EventHeartbeat, 10},
		{models.EventPause, 42},
	}
	once := buildEvents(session, 1, batch...)
	twice := append(buildEvents(session, 1, batch...), buildEvents(session, 4, batch...)...)

	a := Compute(once, lesson(100))
	b := Compute(twice, lesson(100))
	if a.TotalWatchedSeconds != b.TotalWatchedSeconds || a.CompletionPercentage != b.CompletionPercentage {
		t.Fatalf("duplicate batch changed result: %+v vs %+v", a, b)
	}
}

func TestCompute_PoolsAcrossSessions(t *testing.T) {
	first := buildEvents(uuid.New(), 1, step{models.EventPlay, 0}, step{models.EventPause, 40})
	second := buildEvents(uuid.New(), 3, step{models.EventPlay, 60}, step{models.EventEnd, 100})

	snap := Compute(append(first, second...), lesson(100))
	if snap.TotalWatchedSeconds != 80 {
		t.Fatalf("expected 80 watched seconds across sessions, got %v", snap.TotalWatchedSeconds)
	}
}

func TestSessionIntervals(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		steps    []step
		expected []Interval
	}{
		{
			name:     "backward seek keeps reported head",
			duration: 100,
			steps: []step{
				{models.EventPlay, 0},
				{models.EventHeartbeat, 40},
				{models.EventSeek, 10},
				{models.EventPause, 20},
			},
			expected: []Interval{{0, 40}, {10, 20}},
		},
		{
			// pending product decision: skipped range is credited
			name:     "forward seek while playing closes at the target",
			duration: 3600,
			steps: []step{
				{models.EventPlay, 0},
				{models.EventSeek, 3500},
				{models.EventPause, 3510},
			},
			expected: []Interval{{0, 3500}, {3500, 3510}},
		},
		{
			name:     "seek while paused does not open an interval",
			duration: 100,
			steps: []step{
				{models.EventSeek, 50},
				{models.EventPlay, 50},
				{models.EventPause, 60},
			},
			expected: []Interval{{50, 60}},
		},
		{
			name:     "open interval closes at head",
			duration: 100,
			steps: []step{
				{models.EventPlay, 5},
				{models.EventHeartbeat, 15},
				{models.EventHeartbeat, 25},
			},
			expected: []Interval{{5, 25}},
		},
		{
			name:     "positions clamp to duration",
			duration: 60,
			steps: []step{
				{models.EventPlay, 30},
				{models.EventEnd, 500},
			},
			expected: []Interval{{30, 60}},
		},
		{
			name:     "repeated play closes previous interval",
			duration: 100,
			steps: []step{
				{models.EventPlay, 0},
				{models.EventPlay, 10},
				{models.EventPause, 15},
			},
			expected: []Interval{{0, 10}, {10, 15}},
		},
		{
			name:     "pause without play is ignored",
			duration: 100,
			steps: []step{
				{models.EventPause, 10},
				{models.EventHeartbeat, 20},
			},
			expected: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SessionIntervals(buildEvents(uuid.New(), 1, tc.steps...), tc.duration)
			if len(got) != len(tc.expected) {
				t.Fatalf("expected %+v, got %+v", tc.expected, got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Fatalf("expected %+v, got %+v", tc.expected, got)
				}
			}
		})
	}
}

func TestMerge_TouchingRanges(t *testing.T) {
	merged := Merge([]Interval{{20, 30}, {0, 10}, {10, 20}, {40, 45}})
	if len(merged) != 2 || merged[0] != (Interval{0, 30}) || merged[1] != (Interval{40, 45}) {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	if Total(merged, 100) != 35 {
		t.Fatalf("expected total 35, got %v", Total(merged, 100))
	}
}

func TestTotal_CappedAtDuration(t *testing.T) {
	if got := Total([]Interval{{0, 150}}, 100); got != 100 {
		t.Fatalf("expected cap at 100, got %v", got)
	}
}

func TestCompute_NoEvents(t *testing.T) {
	snap := Compute(nil, lesson(100))
	if snap.TotalWatchedSeconds != 0 || snap.CompletionPercentage != 0 || snap.DurationMissing {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestCompute_MissingDuration(t *testing.T) {
	events := buildEvents(uuid.New(), 1, step{models.EventPlay, 0}, step{models.EventPause, 30})
	snap := Compute(events, lesson(0))
	if !snap.DurationMissing {
		t.Fatalf("expected duration to be flagged missing")
	}
	if snap.CompletionPercentage != 0 {
		t.Fatalf("expected 0%% completion without a duration, got %v", snap.CompletionPercentage)
	}
}

func TestApply_CompletionThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		watched   float64
		completed bool
	}{
		{79, false},
		{80, true},
		{100, true},
	}

	for _, tc := range tests {
		snap := Snapshot{TotalWatchedSeconds: tc.watched, CompletionPercentage: tc.watched}
		next, regressed := Apply(models.VideoProgress{}, snap, 80, now)
		if regressed {
			t.Fatalf("fresh row should never regress")
		}
		if next.IsCompleted != tc.completed {
			t.Errorf("watched=%v: expected completed=%v, got %v", tc.watched, tc.completed, next.IsCompleted)
		}
	}
}

func TestApply_Monotonic(t *testing.T) {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	prev, _ := Apply(models.VideoProgress{}, Snapshot{TotalWatchedSeconds: 60, CompletionPercentage: 60}, 80, first)
	next, regressed := Apply(prev, Snapshot{TotalWatchedSeconds: 40, CompletionPercentage: 40}, 80, later)

	if !regressed {
		t.Fatalf("expected lower recomputation to be reported")
	}
	if next.TotalWatchedSeconds != 60 || next.CompletionPercentage != 60 {
		t.Fatalf("expected last-known-good values kept, got %+v", next)
	}
	if !next.FirstWatchStarted.Equal(first) {
		t.Fatalf("first_watch_started must be set once")
	}
	if !next.LastWatchUpdated.Equal(later) {
		t.Fatalf("last_watch_updated must refresh every recompute")
	}
}
