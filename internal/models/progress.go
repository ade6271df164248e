package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoProgress is recomputed from the event log, never hand-edited.
type VideoProgress struct {
	UserID                  uuid.UUID  `json:"user_id"`
	LessonID                uuid.UUID  `json:"lesson_id"`
	TotalWatchedSeconds     float64    `json:"total_watched_seconds"`
	CompletionPercentage    float64    `json:"completion_percentage"`
	IsCompleted             bool       `json:"is_completed"`
	FirstWatchStarted       *time.Time `json:"first_watch_started"`
	LastWatchUpdated        *time.Time `json:"last_watch_updated"`
	SuspiciousActivityCount int        `json:"suspicious_activity_count"`
	GradeContribution       float64    `json:"grade_contribution"`
}

type VideoGradeResult struct {
	UserID                  uuid.UUID   `json:"user_id"`
	LessonID                uuid.UUID   `json:"lesson_id"`
	CompletionPercentage    float64     `json:"completion_percentage"`
	SuspiciousActivityCount int         `json:"suspicious_activity_count"`
	IsCompleted             bool        `json:"is_completed"`
	BaseScore               float64     `json:"base_score"`
	Penalty                 float64     `json:"penalty"`
	Bonus                   float64     `json:"bonus"`
	FinalScore              float64     `json:"final_score"`
	Weight                  float64     `json:"weight"`
	GradeContribution       float64     `json:"grade_contribution"`
	MaxContribution         float64     `json:"max_contribution"`
	Config                  GradeConfig `json:"config"`
}

type TotalVideoGrade struct {
	UserID           uuid.UUID          `json:"user_id"`
	TotalScore       float64            `json:"total_score"`
	MaxPossibleScore float64            `json:"max_possible_score"`
	Percentage       float64            `json:"percentage"`
	CompletedVideos  int                `json:"completed_videos"`
	TotalVideos      int                `json:"total_videos"`
	Lessons          []VideoGradeResult `json:"lessons"`
}

// PairKey identifies one learner's relationship with one lesson.
type PairKey struct {
	UserID   uuid.UUID `json:"user_id"`
	LessonID uuid.UUID `json:"lesson_id"`
}
