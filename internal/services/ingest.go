package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/anomaly"
	"vigil-backend/internal/models"
)

const maxPlaybackRate = 16.0

var reservedDataKeys = []string{"_findings", "_review"}

type eventAppender interface {
	AppendBatch(ctx context.Context, events []models.ViewingEvent) error
}

type recomputeScheduler interface {
	Schedule(ctx context.Context, pair models.PairKey) error
}

type progressRecomputer interface {
	Recompute(ctx context.Context, pair models.PairKey) (*models.VideoProgress, error)
}

type sessionInspector interface {
	Inspect(ctx context.Context, session *models.ViewingSession) ([]models.AlertType, error)
	CheckConcurrent(ctx context.Context, session *models.ViewingSession) error
}

type IngestService struct {
	sessions *SessionService
	events   eventAppender
	detector sessionInspector
	queue    recomputeScheduler
	progress progressRecomputer
	maxBatch int
	log      *logrus.Entry
}

func NewIngestService(
	sessions *SessionService,
	events eventAppender,
	detector sessionInspector,
	queue recomputeScheduler,
	progress progressRecomputer,
	maxBatch int,
	logger *logrus.Logger,
) *IngestService {
	if maxBatch <= 0 || maxBatch > 100 {
		maxBatch = 100
	}
	return &IngestService{
		sessions: sessions,
		events:   events,
		detector: detector,
		queue:    queue,
		progress: progress,
		maxBatch: maxBatch,
		log:      logger.WithField("component", "ingest"),
	}
}

func (s *IngestService) Submit(ctx context.Context, p models.Principal, token string, in models.EventInput) (*models.IngestResult, error) {
	return s.SubmitBatch(ctx, p, token, models.EventBatchRequest{Events: []models.EventInput{in}})
}

// SubmitBatch validates and appends a batch atomically, then runs the inline
// detector and schedules a progress recompute for the pair.
func (s *IngestService) SubmitBatch(ctx context.Context, p models.Principal, token string, req models.EventBatchRequest) (*models.IngestResult, error) {
	inputs, err := decodeBatch(req)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"events": "at least one event is required"}}
	}
	if len(inputs) > s.maxBatch {
		return nil, &ValidationError{Fields: map[string]string{"events": fmt.Sprintf("at most %d events per batch", s.maxBatch)}}
	}

	now := s.sessions.now().UTC()
	events := make([]models.ViewingEvent, 0, len(inputs))
	fields := make(map[string]string)
	for i, in := range inputs {
		ev, ok := normalizeEvent(i, in, now, fields)
		if ok {
			events = append(events, ev)
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	session, err := s.sessions.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.UserID != p.UserID {
		return nil, &ForbiddenError{Message: "Session belongs to another user"}
	}

	// A closing tab's final pause or end on a superseded session is not a
	// sign of life and must not extend its liveness window.
	playing := hasPlaybackActivity(events)
	if session.IsActive || playing {
		s.sessions.markSeen(ctx, session)
	}

	if playing && !session.IsActive && session.EndReason != nil && *session.EndReason == models.EndReasonSuperseded {
		if err := s.detector.CheckConcurrent(ctx, session); err != nil {
			s.log.WithError(err).WithField("session_id", session.ID).Error("concurrent viewing check failed")
		}
	}
	if err := s.sessions.checkActive(ctx, session); err != nil {
		return nil, err
	}

	for i := range events {
		events[i].SessionID = session.ID
		events[i].UserID = session.UserID
		events[i].LessonID = session.LessonID
	}

	if err := s.events.AppendBatch(ctx, events); err != nil {
		return nil, storageError("failed to store events", err)
	}

	if _, err := s.sessions.sessions.Heartbeat(ctx, session.ID); err != nil {
		s.log.WithError(err).WithField("session_id", session.ID).Warn("failed to refresh heartbeat after ingest")
	}

	result := &models.IngestResult{SessionID: session.ID, Accepted: len(events)}

	found, err := s.detector.Inspect(ctx, session)
	if err != nil {
		s.log.WithError(err).WithField("session_id", session.ID).Error("anomaly detection failed")
	}
	for _, t := range found {
		result.Findings = append(result.Findings, string(t))
	}

	pair := models.PairKey{UserID: session.UserID, LessonID: session.LessonID}
	if err := s.queue.Schedule(ctx, pair); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id":   pair.UserID,
			"lesson_id": pair.LessonID,
		}).Warn("recompute queue unavailable, recomputing inline")

		if _, err := s.progress.Recompute(ctx, pair); err != nil {
			if isTransient(err) {
				return nil, &TransientError{Message: "Events stored but progress could not be updated", Err: err}
			}
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id":   pair.UserID,
				"lesson_id": pair.LessonID,
			}).Error("inline recompute failed")
		}
	}

	return result, nil
}

// hasPlaybackActivity reports whether a batch shows the player still running.
func hasPlaybackActivity(events []models.ViewingEvent) bool {
	for _, ev := range events {
		switch ev.EventType {
		case models.EventPlay, models.EventHeartbeat, models.EventSeek:
			return true
		}
	}
	return false
}

// normalizeEvent applies defaults and records field errors under events[i].
func normalizeEvent(i int, in models.EventInput, now time.Time, fields map[string]string) (models.ViewingEvent, bool) {
	key := func(name string) string { return fmt.Sprintf("events[%d].%s", i, name) }
	before := len(fields)

	ev := models.ViewingEvent{
		ID:              uuid.New(),
		ReceivedAt:      now,
		ClientTimestamp: in.ClientTimestamp,
		IsTabVisible:    true,
		PlaybackRate:    1.0,
		Volume:          1.0,
	}

	if in.EventType == nil || *in.EventType == "" {
		fields[key("event_type")] = "event_type is required"
	} else if t := models.EventType(*in.EventType); !t.Valid() {
		fields[key("event_type")] = fmt.Sprintf("unknown event type %q", *in.EventType)
	} else {
		ev.EventType = t
	}

	switch {
	case in.TimestampInVideo == nil:
		fields[key("timestamp_in_video")] = "timestamp_in_video is required"
	case math.IsNaN(*in.TimestampInVideo) || math.IsInf(*in.TimestampInVideo, 0) || *in.TimestampInVideo < 0:
		fields[key("timestamp_in_video")] = "timestamp_in_video must be a non-negative number"
	default:
		ev.TimestampInVideo = *in.TimestampInVideo
	}

	if in.PlaybackRate != nil {
		r := *in.PlaybackRate
		if math.IsNaN(r) || r <= 0 || r > maxPlaybackRate {
			fields[key("playback_rate")] = fmt.Sprintf("playback_rate must be in (0, %g]", maxPlaybackRate)
		} else {
			ev.PlaybackRate = r
		}
	}

	if in.Volume != nil {
		v := *in.Volume
		if math.IsNaN(v) || v < 0 || v > 1 {
			fields[key("volume")] = "volume must be between 0 and 1"
		} else {
			ev.Volume = v
		}
	}

	if in.IsTabVisible != nil {
		ev.IsTabVisible = *in.IsTabVisible
	}

	ev.AdditionalData = cleanAdditionalData(in.AdditionalData)
	ev.Fingerprint = anomaly.Fingerprint(ev.AdditionalData)

	return ev, len(fields) == before
}

// cleanAdditionalData drops keys the server writes findings and verdicts under.
func cleanAdditionalData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, k := range reservedDataKeys {
		delete(out, k)
	}
	return out
}
