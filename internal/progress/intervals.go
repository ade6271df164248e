// Package progress turns a viewing event log into watched time.
package progress

import (
	"sort"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

// Interval is a closed range of video seconds inferred as played.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (i Interval) Length() float64 {
	return i.End - i.Start
}

// SessionIntervals walks one session's events (already in seq order) and
// returns the intervals it played. Positions are clamped to [0, duration]
// when duration is known.
//
// A close never lands behind the play head, so seeking backwards while
// playing keeps the time already reported.
func SessionIntervals(events []models.ViewingEvent, duration float64) []Interval {
	var (
		out     []Interval
		playing bool
		start   float64
		head    float64
	)

	clamp := func(ts float64) float64 {
		if ts < 0 {
			return 0
		}
		if duration > 0 && ts > duration {
			return duration
		}
		return ts
	}

	closeAt := func(ts float64) {
		end := max(ts, head)
		if end > start {
			out = append(out, Interval{Start: start, End: end})
		}
	}

	for _, ev := range events {
		ts := clamp(ev.TimestampInVideo)

		switch ev.EventType {
		case models.EventPlay:
			if playing {
				closeAt(ts)
			}
			playing = true
			start, head = ts, ts
		case models.EventHeartbeat:
			if playing && ts > head {
				head = ts
			}
		case models.EventPause, models.EventEnd:
			if playing {
				closeAt(ts)
				playing = false
			}
		case models.EventSeek:
			if playing {
				closeAt(ts)
				start, head = ts, ts
			}
		}
	}

	if playing && head > start {
		out = append(out, Interval{Start: start, End: head})
	}

	return out
}

// Merge returns the union of intervals, sorted by start. Touching ranges merge.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}

	return merged
}

// Total sums merged intervals, capped at duration when duration is known.
func Total(merged []Interval, duration float64) float64 {
	var total float64
	for _, iv := range merged {
		total += iv.Length()
	}
	if duration > 0 && total > duration {
		return duration
	}
	return total
}

// GroupBySession splits a pair's event log into per-session slices ordered by seq.
// Session order follows the first seq seen for each session.
func GroupBySession(events []models.ViewingEvent) [][]models.ViewingEvent {
	sorted := make([]models.ViewingEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	index := make(map[uuid.UUID]int)
	var groups [][]models.ViewingEvent
	for _, ev := range sorted {
		i, ok := index[ev.SessionID]
		if !ok {
			i = len(groups)
			index[ev.SessionID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ev)
	}

	return groups
}
