package models

import (
	"time"

	"github.com/google/uuid"
)

type VideoLesson struct {
	ID                   uuid.UUID  `json:"id"`
	OrganizationID       *uuid.UUID `json:"organization_id"`
	Title                string     `json:"title"`
	VideoRef             string     `json:"video_ref"`
	DurationSeconds      float64    `json:"duration_seconds"`
	Weight               float64    `json:"weight"`
	MinCompletionPercent float64    `json:"min_completion_percent"`
	PenaltyRate          float64    `json:"penalty_rate"`
	BonusRate            float64    `json:"bonus_rate"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// GradeConfig is the grading slice of a lesson.
type GradeConfig struct {
	Weight               float64 `json:"weight"`
	MinCompletionPercent float64 `json:"min_completion_percent"`
	PenaltyRate          float64 `json:"penalty_rate"`
	BonusRate            float64 `json:"bonus_rate"`
}

func (l *VideoLesson) GradeConfig() GradeConfig {
	return GradeConfig{
		Weight:               l.Weight,
		MinCompletionPercent: l.MinCompletionPercent,
		PenaltyRate:          l.PenaltyRate,
		BonusRate:            l.BonusRate,
	}
}

// UpdateGradeConfigRequest fields are optional; absent values keep the stored setting.
type UpdateGradeConfigRequest struct {
	Weight               *float64 `json:"weight"`
	MinCompletionPercent *float64 `json:"min_completion_percent"`
	PenaltyRate          *float64 `json:"penalty_rate"`
	BonusRate            *float64 `json:"bonus_rate"`
}

type LessonSnapshot struct {
	ID                   uuid.UUID `json:"id"`
	Title                string    `json:"title"`
	VideoRef             string    `json:"video_ref"`
	DurationSeconds      float64   `json:"duration_seconds"`
	MinCompletionPercent float64   `json:"min_completion_percent"`
}

func (l *VideoLesson) Snapshot() LessonSnapshot {
	return LessonSnapshot{
		ID:                   l.ID,
		Title:                l.Title,
		VideoRef:             l.VideoRef,
		DurationSeconds:      l.DurationSeconds,
		MinCompletionPercent: l.MinCompletionPercent,
	}
}

// LessonAttention is a lesson an operator has to fix before progress can be measured.
type LessonAttention struct {
	LessonID                 uuid.UUID `json:"lesson_id"`
	Title                    string    `json:"title"`
	VideoRef                 string    `json:"video_ref"`
	Reason                   string    `json:"reason"`
	SuggestedDurationSeconds *float64  `json:"suggested_duration_seconds,omitempty"`
}
