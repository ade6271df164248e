// Package anomaly holds the fraud rules run over viewing sessions. Every rule
// is a pure predicate over a Window and returns at most one Candidate.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

type Config struct {
	HeartbeatTimeout  time.Duration
	SpeedCeiling      float64
	SpeedRunThreshold int
	SeekThreshold     int
	JitterFloorMs     float64
	JitterMinSamples  int
	HiddenFraction    float64
	HiddenMinWatched  float64
}

func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:  60 * time.Second,
		SpeedCeiling:      2.0,
		SpeedRunThreshold: 5,
		SeekThreshold:     10,
		JitterFloorMs:     5,
		JitterMinSamples:  12,
		HiddenFraction:    0.5,
		HiddenMinWatched:  60,
	}
}

// Window is everything a rule may look at for one session.
type Window struct {
	Lesson   *models.VideoLesson
	Session  *models.ViewingSession
	Events   []models.ViewingEvent
	Siblings []models.ViewingSession
	Now      time.Time
}

type Candidate struct {
	Type        models.AlertType
	Severity    models.Severity
	Description string
	EventIDs    []uuid.UUID
	Details     map[string]any
}

type Rule func(w Window, cfg Config) *Candidate

// InlineRules are cheap enough to run on every ingest, in evaluation order.
func InlineRules() []Rule {
	return []Rule{
		ConcurrentViewing,
		ImpossibleSpeed,
		SuspiciousSeeking,
		HeartbeatJitter,
		TabHiddenPlayback,
	}
}

// Evaluate runs rules in order. A panicking rule counts as no finding.
func Evaluate(w Window, cfg Config, rules []Rule) []Candidate {
	var out []Candidate
	for _, rule := range rules {
		if c := safeRun(rule, w, cfg); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func safeRun(rule Rule, w Window, cfg Config) (c *Candidate) {
	defer func() {
		if recover() != nil {
			c = nil
		}
	}()
	return rule(w, cfg)
}

// live reports whether a session still shows signs of life, whatever its flag says.
func live(s *models.ViewingSession, now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastSeenAt) <= timeout
}

// ConcurrentViewing fires when another live session for the pair overlaps this
// one from a different fingerprint.
func ConcurrentViewing(w Window, cfg Config) *Candidate {
	if w.Session == nil || !live(w.Session, w.Now, cfg.HeartbeatTimeout) {
		return nil
	}

	var others []string
	for i := range w.Siblings {
		s := &w.Siblings[i]
		if s.ID == w.Session.ID || !live(s, w.Now, cfg.HeartbeatTimeout) {
			continue
		}
		if !s.Fingerprint.Differs(w.Session.Fingerprint) {
			continue
		}
		if s.StartedAt.After(w.Session.LastSeenAt) || w.Session.StartedAt.After(s.LastSeenAt) {
			continue
		}
		others = append(others, s.ID.String())
	}

	if len(others) == 0 {
		return nil
	}

	return &Candidate{
		Type:        models.AlertConcurrentViewing,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("%d other session(s) were live at the same time from a different client", len(others)),
		Details: map[string]any{
			"session_id":         w.Session.ID.String(),
			"overlapping":        others,
			"session_user_agent": w.Session.Fingerprint.UserAgent,
		},
	}
}

// ImpossibleSpeed looks at the longest run of consecutive events above the speed ceiling.
func ImpossibleSpeed(w Window, cfg Config) *Candidate {
	var best, cur []uuid.UUID
	for _, ev := range w.Events {
		if ev.PlaybackRate > cfg.SpeedCeiling {
			cur = append(cur, ev.ID)
			if len(cur) > len(best) {
				best = cur
			}
			continue
		}
		cur = nil
	}

	run := len(best)
	if run <= cfg.SpeedRunThreshold {
		return nil
	}

	severity := models.SeverityLow
	if run > 2*cfg.SpeedRunThreshold || run*2 > len(w.Events) {
		severity = models.SeverityMedium
	}

	return &Candidate{
		Type:        models.AlertImpossibleSpeed,
		Severity:    severity,
		Description: fmt.Sprintf("Playback rate stayed above %.1fx for %d consecutive events", cfg.SpeedCeiling, run),
		EventIDs:    best,
		Details: map[string]any{
			"run_length": run,
			"ceiling":    cfg.SpeedCeiling,
			"events":     len(w.Events),
		},
	}
}

// SuspiciousSeeking counts seeks and the total forward distance they skipped.
func SuspiciousSeeking(w Window, cfg Config) *Candidate {
	var (
		seeks   []uuid.UUID
		forward float64
		pos     float64
		havePos bool
	)

	for _, ev := range w.Events {
		if ev.EventType == models.EventSeek {
			seeks = append(seeks, ev.ID)
			if havePos && ev.TimestampInVideo > pos {
				forward += ev.TimestampInVideo - pos
			}
		}
		pos = ev.TimestampInVideo
		havePos = true
	}

	count := len(seeks)
	duration := 0.0
	if w.Lesson != nil {
		duration = w.Lesson.DurationSeconds
	}
	skippedTooMuch := duration > 0 && forward > duration

	if count <= cfg.SeekThreshold && !skippedTooMuch {
		return nil
	}

	severity := models.SeverityMedium
	switch {
	case count > 4*cfg.SeekThreshold:
		severity = models.SeverityCritical
	case count > 2*cfg.SeekThreshold:
		severity = models.SeverityHigh
	}

	return &Candidate{
		Type:        models.AlertSuspiciousSeeking,
		Severity:    severity,
		Description: fmt.Sprintf("%d seeks skipping %.0fs forward in one session", count, forward),
		EventIDs:    seeks,
		Details: map[string]any{
			"seek_count":      count,
			"forward_seconds": forward,
			"threshold":       cfg.SeekThreshold,
		},
	}
}

// HeartbeatJitter flags heartbeats that arrive with machine-like regularity.
// Client timestamps are used when every heartbeat has one.
func HeartbeatJitter(w Window, cfg Config) *Candidate {
	var beats []models.ViewingEvent
	useClient := true
	for _, ev := range w.Events {
		if ev.EventType != models.EventHeartbeat {
			continue
		}
		beats = append(beats, ev)
		if ev.ClientTimestamp == nil {
			useClient = false
		}
	}

	at := func(ev models.ViewingEvent) time.Time {
		if useClient {
			return *ev.ClientTimestamp
		}
		return ev.ReceivedAt
	}

	var gaps []float64
	for i := 1; i < len(beats); i++ {
		gap := at(beats[i]).Sub(at(beats[i-1]))
		// Events of one batch share a receipt time
		if gap <= 0 {
			continue
		}
		gaps = append(gaps, float64(gap)/float64(time.Millisecond))
	}

	if len(gaps) < cfg.JitterMinSamples {
		return nil
	}

	sd := stddev(gaps)
	if sd >= cfg.JitterFloorMs {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(beats))
	for _, b := range beats {
		ids = append(ids, b.ID)
	}

	return &Candidate{
		Type:        models.AlertAutomationDetected,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("Heartbeat timing jitter of %.2fms across %d intervals", sd, len(gaps)),
		EventIDs:    ids,
		Details: map[string]any{
			"stddev_ms":    sd,
			"samples":      len(gaps),
			"client_clock": useClient,
		},
	}
}

// TabHiddenPlayback compares video time played while the tab was hidden to all time played.
func TabHiddenPlayback(w Window, cfg Config) *Candidate {
	var (
		playing   bool
		pos       float64
		visible   = true
		watched   float64
		hidden    float64
		hiddenIDs []uuid.UUID
	)

	for _, ev := range w.Events {
		ts := ev.TimestampInVideo
		if playing && ev.EventType != models.EventSeek && ts > pos {
			seg := ts - pos
			watched += seg
			if !visible {
				hidden += seg
				hiddenIDs = append(hiddenIDs, ev.ID)
			}
		}

		switch ev.EventType {
		case models.EventPlay:
			playing = true
		case models.EventPause, models.EventEnd:
			playing = false
		}
		pos = ts
		visible = ev.IsTabVisible
	}

	if watched < cfg.HiddenMinWatched || watched == 0 {
		return nil
	}
	fraction := hidden / watched
	if fraction <= cfg.HiddenFraction {
		return nil
	}

	return &Candidate{
		Type:        models.AlertTabHiddenPlayback,
		Severity:    models.SeverityLow,
		Description: fmt.Sprintf("%.0f%% of played time happened in a hidden tab", fraction*100),
		EventIDs:    hiddenIDs,
		Details: map[string]any{
			"hidden_seconds":  hidden,
			"watched_seconds": watched,
			"fraction":        fraction,
		},
	}
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}
