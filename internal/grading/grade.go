// Package grading converts lesson progress into a bounded score. Everything
// here is deterministic: the same progress and config always grade the same.
package grading

import (
	"math"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

const (
	DefaultWeight        = 1.0
	DefaultMinCompletion = 80.0
	DefaultPenaltyRate   = 0.1
	DefaultBonusRate     = 0.05

	// BonusCompletion is the completion needed for the clean-watch bonus.
	BonusCompletion = 95.0

	scoreScale = 1e6
)

func DefaultConfig() models.GradeConfig {
	return models.GradeConfig{
		Weight:               DefaultWeight,
		MinCompletionPercent: DefaultMinCompletion,
		PenaltyRate:          DefaultPenaltyRate,
		BonusRate:            DefaultBonusRate,
	}
}

// BaseScore rescales completion from [min, 100] onto [0, 100].
func BaseScore(completion, minCompletion float64) float64 {
	if completion < minCompletion {
		return 0
	}
	if minCompletion >= 100 {
		return 100
	}
	return round(clamp((completion-minCompletion)/(100-minCompletion)*100, 0, 100))
}

func Penalty(count int, penaltyRate float64) float64 {
	return round(math.Min(100, float64(count)*penaltyRate*100))
}

func Bonus(completion float64, count int, bonusRate float64) float64 {
	if completion >= BonusCompletion && count == 0 {
		return round(bonusRate * 100)
	}
	return 0
}

// Grade scores one lesson.
func Grade(p models.VideoProgress, cfg models.GradeConfig) models.VideoGradeResult {
	base := BaseScore(p.CompletionPercentage, cfg.MinCompletionPercent)
	penalty := Penalty(p.SuspiciousActivityCount, cfg.PenaltyRate)
	bonus := Bonus(p.CompletionPercentage, p.SuspiciousActivityCount, cfg.BonusRate)
	final := round(clamp(base-penalty+bonus, 0, 100))

	return models.VideoGradeResult{
		UserID:                  p.UserID,
		LessonID:                p.LessonID,
		CompletionPercentage:    p.CompletionPercentage,
		SuspiciousActivityCount: p.SuspiciousActivityCount,
		IsCompleted:             p.IsCompleted,
		BaseScore:               base,
		Penalty:                 penalty,
		Bonus:                   bonus,
		FinalScore:              final,
		Weight:                  cfg.Weight,
		GradeContribution:       round(final * cfg.Weight),
		MaxContribution:         round(100 * cfg.Weight),
		Config:                  cfg,
	}
}

// Total sums per-lesson results into a user's overall video grade.
func Total(userID uuid.UUID, results []models.VideoGradeResult) models.TotalVideoGrade {
	total := models.TotalVideoGrade{
		UserID:      userID,
		TotalVideos: len(results),
		Lessons:     results,
	}
	if total.Lessons == nil {
		total.Lessons = []models.VideoGradeResult{}
	}

	for _, r := range results {
		total.TotalScore += r.GradeContribution
		total.MaxPossibleScore += r.MaxContribution
		if r.IsCompleted {
			total.CompletedVideos++
		}
	}

	total.TotalScore = round(total.TotalScore)
	total.MaxPossibleScore = round(total.MaxPossibleScore)
	if total.MaxPossibleScore > 0 {
		total.Percentage = round(total.TotalScore / total.MaxPossibleScore * 100)
	}

	return total
}

// Validate returns per-field messages for an out-of-range config.
func Validate(cfg models.GradeConfig) map[string]string {
	fields := make(map[string]string)

	if math.IsNaN(cfg.Weight) || cfg.Weight < 0 {
		fields["weight"] = "Weight must be zero or positive"
	}
	if math.IsNaN(cfg.MinCompletionPercent) || cfg.MinCompletionPercent < 0 || cfg.MinCompletionPercent > 100 {
		fields["min_completion_percent"] = "Minimum completion must be between 0 and 100"
	}
	if math.IsNaN(cfg.PenaltyRate) || cfg.PenaltyRate < 0 || cfg.PenaltyRate > 1 {
		fields["penalty_rate"] = "Penalty rate must be between 0 and 1"
	}
	if math.IsNaN(cfg.BonusRate) || cfg.BonusRate < 0 || cfg.BonusRate > 1 {
		fields["bonus_rate"] = "Bonus rate must be between 0 and 1"
	}

	return fields
}

// Merge overlays the set fields of req onto cfg.
func Merge(cfg models.GradeConfig, req models.UpdateGradeConfigRequest) models.GradeConfig {
	if req.Weight != nil {
		cfg.Weight = *req.Weight
	}
	if req.MinCompletionPercent != nil {
		cfg.MinCompletionPercent = *req.MinCompletionPercent
	}
	if req.PenaltyRate != nil {
		cfg.PenaltyRate = *req.PenaltyRate
	}
	if req.BonusRate != nil {
		cfg.BonusRate = *req.BonusRate
	}
	return cfg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round drops float noise below a millionth of a point so reported grades
// read the same for the same inputs.
func round(v float64) float64 {
	return math.Round(v*scoreScale) / scoreScale
}
