package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPlay      EventType = "play"
	EventPause     EventType = "pause"
	EventSeek      EventType = "seek"
	EventHeartbeat EventType = "heartbeat"
	EventEnd       EventType = "end"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPlay, EventPause, EventSeek, EventHeartbeat, EventEnd:
		return true
	}
	return false
}

// ViewingEvent is append-only; only AdditionalData is ever stamped after insert.
// Seq is the server-assigned ordering field.
type ViewingEvent struct {
	ID               uuid.UUID      `json:"id"`
	Seq              int64          `json:"seq"`
	SessionID        uuid.UUID      `json:"session_id"`
	UserID           uuid.UUID      `json:"user_id"`
	LessonID         uuid.UUID      `json:"lesson_id"`
	EventType        EventType      `json:"event_type"`
	TimestampInVideo float64        `json:"timestamp_in_video"`
	ClientTimestamp  *time.Time     `json:"client_timestamp,omitempty"`
	ReceivedAt       time.Time      `json:"received_at"`
	IsTabVisible     bool           `json:"is_tab_visible"`
	PlaybackRate     float64        `json:"playback_rate"`
	Volume           float64        `json:"volume"`
	AdditionalData   map[string]any `json:"additional_data"`
	Fingerprint      string         `json:"-"`
}

// EventInput is the client-reported shape before validation.
type EventInput struct {
	EventType        *string        `json:"event_type"`
	TimestampInVideo *float64       `json:"timestamp_in_video"`
	ClientTimestamp  *time.Time     `json:"client_timestamp"`
	IsTabVisible     *bool          `json:"is_tab_visible"`
	PlaybackRate     *float64       `json:"playback_rate"`
	Volume           *float64       `json:"volume"`
	AdditionalData   map[string]any `json:"additional_data"`
}

// EventBatchRequest carries either plain events or an encoded delta payload.
type EventBatchRequest struct {
	Events   []EventInput `json:"events"`
	Encoding string       `json:"encoding,omitempty"`
	Payload  string       `json:"payload,omitempty"`
}

type IngestResult struct {
	SessionID uuid.UUID `json:"session_id"`
	Accepted  int       `json:"accepted"`
	Findings  []string  `json:"-"`
}
