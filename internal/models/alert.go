package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertConcurrentViewing  AlertType = "concurrent_viewing"
	AlertImpossibleSpeed    AlertType = "impossible_speed"
	AlertSuspiciousSeeking  AlertType = "suspicious_seeking"
	AlertAutomationDetected AlertType = "automation_detected"
	AlertTabHiddenPlayback  AlertType = "tab_hidden_playback"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertConcurrentViewing, AlertImpossibleSpeed, AlertSuspiciousSeeking, AlertAutomationDetected, AlertTabHiddenPlayback:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertReviewed  AlertStatus = "reviewed"
	AlertDismissed AlertStatus = "dismissed"
	AlertResolved  AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertReviewed, AlertDismissed, AlertResolved:
		return true
	}
	return false
}

// Terminal statuses can never transition again.
func (s AlertStatus) Terminal() bool {
	return s == AlertReviewed || s == AlertDismissed || s == AlertResolved
}

type SecurityAlert struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	LessonID       uuid.UUID       `json:"lesson_id"`
	OrganizationID *uuid.UUID      `json:"organization_id"`
	AlertType      AlertType       `json:"alert_type"`
	Severity       Severity        `json:"severity"`
	Description    string          `json:"description"`
	Evidence       json.RawMessage `json:"evidence"`
	Status         AlertStatus     `json:"status"`
	TriggerCount   int             `json:"trigger_count"`
	ReviewedBy     *uuid.UUID      `json:"reviewed_by"`
	ReviewNotes    *string         `json:"review_notes"`
	ReviewedAt     *time.Time      `json:"reviewed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AlertEvidence is the structured evidence stored on an alert.
type AlertEvidence struct {
	SessionID *uuid.UUID     `json:"session_id,omitempty"`
	EventIDs  []uuid.UUID    `json:"event_ids,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type AlertFilter struct {
	Status         *AlertStatus
	AlertType      *AlertType
	Severity       *Severity
	UserID         *uuid.UUID
	LessonID       *uuid.UUID
	OrganizationID *uuid.UUID
	Limit          int
	Offset         int
}

type UpdateAlertStatusRequest struct {
	Status AlertStatus `json:"status"`
	Notes  string      `json:"notes"`
}

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Retrigger folds a repeated finding into this active alert. Severity only ratchets up.
func (a *SecurityAlert) Retrigger(incoming *SecurityAlert) {
	if severityRank[incoming.Severity] > severityRank[a.Severity] {
		a.Severity = incoming.Severity
	}
	a.Description = incoming.Description
	if len(incoming.Evidence) > 0 {
		a.Evidence = incoming.Evidence
	}
	a.TriggerCount++
}
