package models

import (
	"time"

	"github.com/google/uuid"
)

// RecomputeJob asks the worker pool to rebuild progress for one (user, lesson) pair.
type RecomputeJob struct {
	UserID     uuid.UUID `json:"user_id"`
	LessonID   uuid.UUID `json:"lesson_id"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Principal is the verified caller delivered by the authorization collaborator.
type Principal struct {
	UserID         uuid.UUID
	Role           string
	OrganizationID *uuid.UUID
}

const (
	RoleStudent  = "student"
	RoleOrgAdmin = "org_admin"
	RoleAdmin    = "admin"
)

func (p Principal) IsReviewer() bool {
	return p.Role == RoleAdmin || p.Role == RoleOrgAdmin
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ProgressUpdated struct {
	LessonID             uuid.UUID `json:"lesson_id"`
	TotalWatchedSeconds  float64   `json:"total_watched_seconds"`
	CompletionPercentage float64   `json:"completion_percentage"`
	IsCompleted          bool      `json:"is_completed"`
	GradeContribution    float64   `json:"grade_contribution"`
}

type AlertRaised struct {
	AlertID   uuid.UUID `json:"alert_id"`
	UserID    uuid.UUID `json:"user_id"`
	LessonID  uuid.UUID `json:"lesson_id"`
	AlertType AlertType `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	Created   bool      `json:"created"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type MaintenanceReport struct {
	RanAt                   time.Time         `json:"ran_at"`
	StaleSessionsClosed     int64             `json:"stale_sessions_closed"`
	ConcurrentAlerts        int               `json:"concurrent_alerts"`
	FingerprintAlerts       int               `json:"fingerprint_alerts"`
	LessonsNeedingAttention []LessonAttention `json:"lessons_needing_attention"`
	Errors                  []string          `json:"errors,omitempty"`
}
