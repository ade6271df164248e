package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"vigil-backend/internal/grading"
	"vigil-backend/internal/models"
)

const (
	gradesSheet = "Grades"
	totalsSheet = "Totals"
)

var (
	gradeHeader = []any{"user_id", "lesson_id", "lesson", "completion_%", "completed", "suspicious_activity",
		"base", "penalty", "bonus", "final", "weight", "contribution"}
	totalHeader = []any{"user_id", "total_score", "max_possible", "percentage", "completed_videos", "total_videos"}
)

type gradebookRow struct {
	Lesson string
	Result models.VideoGradeResult
}

type organizationLessons interface {
	ListByOrganization(ctx context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error)
}

type organizationMembers interface {
	ListUserIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error)
}

// GradebookExporter renders an organization's video grades as an xlsx workbook.
type GradebookExporter struct {
	lessons  organizationLessons
	progress progressStore
	members  organizationMembers
	log      *logrus.Entry
}

func NewGradebookExporter(lessons organizationLessons, progress progressStore, members organizationMembers, logger *logrus.Logger) *GradebookExporter {
	return &GradebookExporter{
		lessons:  lessons,
		progress: progress,
		members:  members,
		log:      logger.WithField("component", "export"),
	}
}

// Export builds the workbook. Organization admins always get their own
// organization; admins may pick one or export everything with a nil orgID.
func (e *GradebookExporter) Export(ctx context.Context, p models.Principal, orgID *uuid.UUID) (*excelize.File, error) {
	scope, err := orgScope(p)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		orgID = scope
	}

	lessons, err := e.lessons.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, storageError("failed to list lessons", err)
	}

	rowsByLesson := make(map[uuid.UUID][]*models.VideoProgress, len(lessons))
	for _, l := range lessons {
		rows, err := e.progress.ListForLesson(ctx, l.ID)
		if err != nil {
			return nil, storageError("failed to list progress", err)
		}
		rowsByLesson[l.ID] = rows
	}

	var users []uuid.UUID
	if orgID != nil && e.members != nil {
		users, err = e.members.ListUserIDs(ctx, *orgID)
		if err != nil {
			return nil, storageError("failed to list organization members", err)
		}
	}

	grades, totals := buildGradebook(lessons, rowsByLesson, users)

	f, err := writeWorkbook(grades, totals)
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"by":       p.UserID,
		"lessons":  len(lessons),
		"learners": len(totals),
	}).Info("gradebook exported")
	return f, nil
}

// buildGradebook grades every (learner, lesson) pair. Listed users without
// progress still get a totals row, with zero for each lesson.
func buildGradebook(lessons []*models.VideoLesson, rowsByLesson map[uuid.UUID][]*models.VideoProgress, users []uuid.UUID) ([]gradebookRow, []models.TotalVideoGrade) {
	learners := make(map[uuid.UUID]struct{}, len(users))
	for _, u := range users {
		learners[u] = struct{}{}
	}
	for _, rows := range rowsByLesson {
		for _, r := range rows {
			learners[r.UserID] = struct{}{}
		}
	}

	ordered := make([]uuid.UUID, 0, len(learners))
	for u := range learners {
		ordered = append(ordered, u)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	perUser := make(map[uuid.UUID][]models.VideoGradeResult, len(ordered))
	var grades []gradebookRow
	for _, l := range lessons {
		byUser := make(map[uuid.UUID]*models.VideoProgress, len(rowsByLesson[l.ID]))
		for _, r := range rowsByLesson[l.ID] {
			byUser[r.UserID] = r
		}
		for _, u := range ordered {
			row, ok := byUser[u]
			if !ok {
				row = &models.VideoProgress{UserID: u, LessonID: l.ID}
			}
			result := gradeFor(*row, l)
			perUser[u] = append(perUser[u], result)
			if ok {
				grades = append(grades, gradebookRow{Lesson: l.Title, Result: result})
			}
		}
	}

	totals := make([]models.TotalVideoGrade, 0, len(ordered))
	for _, u := range ordered {
		totals = append(totals, grading.Total(u, perUser[u]))
	}
	return grades, totals
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func writeWorkbook(grades []gradebookRow, totals []models.TotalVideoGrade) (*excelize.File, error) {
	f := excelize.NewFile()

	f.SetSheetName("Sheet1", gradesSheet)
	if err := setRow(f, gradesSheet, 1, gradeHeader); err != nil {
		return nil, err
	}
	for i, gr := range grades {
		g := gr.Result
		row := []any{
			g.UserID.String(), g.LessonID.String(), gr.Lesson, round2(g.CompletionPercentage), g.IsCompleted,
			g.SuspiciousActivityCount, round2(g.BaseScore), round2(g.Penalty), round2(g.Bonus), round2(g.FinalScore),
			g.Weight, round2(g.GradeContribution),
		}
		if err := setRow(f, gradesSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	f.NewSheet(totalsSheet)
	if err := setRow(f, totalsSheet, 1, totalHeader); err != nil {
		return nil, err
	}
	for i, t := range totals {
		row := []any{
			t.UserID.String(), round2(t.TotalScore), round2(t.MaxPossibleScore), round2(t.Percentage),
			t.CompletedVideos, t.TotalVideos,
		}
		if err := setRow(f, totalsSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}
