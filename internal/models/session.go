package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EndReasonEnded      = "ended"
	EndReasonSuperseded = "superseded"
	EndReasonTimeout    = "timeout"
)

// Fingerprint is advisory client identification; never used for authorization.
type Fingerprint struct {
	TabID     string `json:"tab_id"`
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
}

func (f Fingerprint) Differs(other Fingerprint) bool {
	return f.TabID != other.TabID || f.UserAgent != other.UserAgent || f.IPAddress != other.IPAddress
}

type ViewingSession struct {
	ID              uuid.UUID   `json:"id"`
	Token           string      `json:"-"`
	UserID          uuid.UUID   `json:"user_id"`
	LessonID        uuid.UUID   `json:"lesson_id"`
	StartedAt       time.Time   `json:"started_at"`
	LastHeartbeatAt time.Time   `json:"last_heartbeat_at"`
	LastSeenAt      time.Time   `json:"last_seen_at"`
	IsActive        bool        `json:"is_active"`
	EndedAt         *time.Time  `json:"ended_at,omitempty"`
	EndReason       *string     `json:"end_reason,omitempty"`
	Fingerprint     Fingerprint `json:"fingerprint"`
}

// Stale reports whether the session missed heartbeats for longer than timeout.
func (s *ViewingSession) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastHeartbeatAt) > timeout
}

type StartSessionRequest struct {
	LessonID  uuid.UUID `json:"lesson_id"`
	TabID     string    `json:"tab_id"`
	UserAgent string    `json:"user_agent"`
}

type StartSessionResponse struct {
	SessionToken             string         `json:"session_token"`
	SessionID                uuid.UUID      `json:"session_id"`
	Lesson                   LessonSnapshot `json:"lesson"`
	HeartbeatIntervalSeconds int            `json:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int            `json:"heartbeat_timeout_seconds"`
}
