package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

func lessonWithDefaults(orgID *uuid.UUID) *models.VideoLesson {
	return &models.VideoLesson{
		ID:                   uuid.New(),
		OrganizationID:       orgID,
		Title:                "Lesson",
		DurationSeconds:      600,
		Weight:               1,
		MinCompletionPercent: 80,
		PenaltyRate:          0.1,
		BonusRate:            0.05,
	}
}

func TestGetLessonGrade(t *testing.T) {
	learner := uuid.New()
	lesson := lessonWithDefaults(nil)
	progress := newFakeProgress(&models.VideoProgress{UserID: learner, LessonID: lesson.ID, CompletionPercentage: 96, IsCompleted: true})
	svc := NewGradingService(newFakeLessons(lesson), progress, fakeMembers{}, nil, testLogger())

	got, err := svc.GetLessonGrade(context.Background(), models.Principal{UserID: learner}, learner, lesson.ID)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if math.Abs(got.FinalScore-85) > 1e-9 {
		t.Fatalf("expected 96%% completion to grade 85, got %v", got.FinalScore)
	}

	_, err = svc.GetLessonGrade(context.Background(), models.Principal{UserID: uuid.New(), Role: models.RoleStudent}, learner, lesson.ID)
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError reading another learner, got %v", err)
	}

	_, err = svc.GetLessonGrade(context.Background(), models.Principal{UserID: learner}, learner, uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown lesson, got %v", err)
	}
}

func TestGetLessonGrade_OrgAdminScope(t *testing.T) {
	org := uuid.New()
	member, outsider := uuid.New(), uuid.New()
	lesson := lessonWithDefaults(&org)
	svc := NewGradingService(newFakeLessons(lesson), newFakeProgress(), fakeMembers{member: org}, nil, testLogger())
	admin := models.Principal{UserID: uuid.New(), Role: models.RoleOrgAdmin, OrganizationID: &org}

	if _, err := svc.GetLessonGrade(context.Background(), admin, member, lesson.ID); err != nil {
		t.Fatalf("org admin reading a member: %v", err)
	}
	_, err := svc.GetLessonGrade(context.Background(), admin, outsider, lesson.ID)
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError for a non-member, got %v", err)
	}
}

func TestOrgAdminReads_StayInsideOrganization(t *testing.T) {
	orgA, orgB := uuid.New(), uuid.New()
	member := uuid.New()
	own := lessonWithDefaults(&orgA)
	foreign := lessonWithDefaults(&orgB)
	lessons := newFakeLessons(own, foreign)
	progress := newFakeProgress(
		&models.VideoProgress{UserID: member, LessonID: own.ID, CompletionPercentage: 100, IsCompleted: true},
		&models.VideoProgress{UserID: member, LessonID: foreign.ID, CompletionPercentage: 90, SuspiciousActivityCount: 3},
	)
	members := fakeMembers{member: orgA}
	adminA := models.Principal{UserID: uuid.New(), Role: models.RoleOrgAdmin, OrganizationID: &orgA}
	ctx := context.Background()

	grades := NewGradingService(lessons, progress, members, nil, testLogger())
	_, err := grades.GetLessonGrade(ctx, adminA, member, foreign.ID)
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError for another organization's lesson, got %v", err)
	}

	total, err := grades.GetTotalGrade(ctx, adminA, member)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.TotalVideos != 1 || len(total.Lessons) != 1 || total.Lessons[0].LessonID != own.ID {
		t.Fatalf("expected only the organization's lesson in the total, got %+v", total)
	}

	// the learner still sees everything
	total, err = grades.GetTotalGrade(ctx, models.Principal{UserID: member}, member)
	if err != nil || total.TotalVideos != 2 {
		t.Fatalf("expected the learner to see both lessons, got %+v / %v", total, err)
	}

	reader := NewProgressService(lessons, newFakeEvents(), progress, members, &fakePublisher{}, testLogger())
	if _, err := reader.Get(ctx, adminA, member, foreign.ID); !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError reading progress on another organization's lesson, got %v", err)
	}
	rows, err := reader.List(ctx, adminA, member)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].LessonID != own.ID {
		t.Fatalf("expected only the organization's progress row, got %+v", rows)
	}
}

func TestGetTotalGrade_CountsLessonsWithoutProgress(t *testing.T) {
	learner := uuid.New()
	watched := lessonWithDefaults(nil)
	unwatched := lessonWithDefaults(nil)
	progress := newFakeProgress(&models.VideoProgress{UserID: learner, LessonID: watched.ID, CompletionPercentage: 100, IsCompleted: true})
	svc := NewGradingService(newFakeLessons(watched, unwatched), progress, fakeMembers{}, nil, testLogger())

	total, err := svc.GetTotalGrade(context.Background(), models.Principal{UserID: learner}, learner)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.TotalVideos != 2 || total.CompletedVideos != 1 {
		t.Fatalf("expected 1 of 2 completed, got %d of %d", total.CompletedVideos, total.TotalVideos)
	}
	if total.MaxPossibleScore != 200 || total.TotalScore != 100 {
		t.Fatalf("expected 100/200, got %v/%v", total.TotalScore, total.MaxPossibleScore)
	}
}

func TestUpdateLessonGradeConfig(t *testing.T) {
	org := uuid.New()
	learner := uuid.New()
	lesson := lessonWithDefaults(&org)
	progress := newFakeProgress(&models.VideoProgress{UserID: learner, LessonID: lesson.ID, CompletionPercentage: 90, GradeContribution: 50})
	queue := &fakeQueue{}
	svc := NewGradingService(newFakeLessons(lesson), progress, fakeMembers{}, queue, testLogger())
	admin := models.Principal{UserID: uuid.New(), Role: models.RoleOrgAdmin, OrganizationID: &org}

	weight := 2.0
	updated, err := svc.UpdateLessonGradeConfig(context.Background(), admin, lesson.ID, models.UpdateGradeConfigRequest{Weight: &weight})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Weight != 2 || updated.MinCompletionPercent != 80 {
		t.Fatalf("expected partial update, got %+v", updated.GradeConfig())
	}
	if got := progress.rows[models.PairKey{UserID: learner, LessonID: lesson.ID}].GradeContribution; got != 100 {
		t.Fatalf("expected contribution refreshed to 100, got %v", got)
	}
	if len(queue.scheduled) != 1 {
		t.Fatalf("expected a recompute scheduled, got %d", len(queue.scheduled))
	}

	bad := 120.0
	_, err = svc.UpdateLessonGradeConfig(context.Background(), admin, lesson.ID, models.UpdateGradeConfigRequest{MinCompletionPercent: &bad})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["min_completion_percent"] == "" {
		t.Fatalf("expected min_completion_percent validation error, got %v", err)
	}

	other := uuid.New()
	_, err = svc.UpdateLessonGradeConfig(context.Background(), models.Principal{Role: models.RoleOrgAdmin, OrganizationID: &other}, lesson.ID, models.UpdateGradeConfigRequest{Weight: &weight})
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError for another organization, got %v", err)
	}
}

func TestProgressRecompute_Monotonic(t *testing.T) {
	learner := uuid.New()
	lesson := lessonWithDefaults(nil)
	events := newFakeEvents()
	session := uuid.New()
	_ = events.AppendBatch(context.Background(), []models.ViewingEvent{
		{ID: uuid.New(), SessionID: session, UserID: learner, LessonID: lesson.ID, EventType: models.EventPlay, TimestampInVideo: 0},
		{ID: uuid.New(), SessionID: session, UserID: learner, LessonID: lesson.ID, EventType: models.EventPause, TimestampInVideo: 300},
	})
	progress := newFakeProgress(&models.VideoProgress{UserID: learner, LessonID: lesson.ID, TotalWatchedSeconds: 540, CompletionPercentage: 90, IsCompleted: true})
	publisher := &fakePublisher{}
	svc := NewProgressService(newFakeLessons(lesson), events, progress, fakeMembers{}, publisher, testLogger())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	got, err := svc.Recompute(context.Background(), models.PairKey{UserID: learner, LessonID: lesson.ID})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if got.TotalWatchedSeconds != 540 || got.CompletionPercentage != 90 || !got.IsCompleted {
		t.Fatalf("expected stored values kept after a lower recompute, got %+v", got)
	}
	if got.LastWatchUpdated == nil || got.FirstWatchStarted == nil {
		t.Fatalf("expected watch timestamps set")
	}
	if len(publisher.user) != 1 || publisher.user[0].Type != "progress_updated" {
		t.Fatalf("expected a progress_updated message, got %+v", publisher.user)
	}
}

func TestProgressGet_ZeroRowForNewLearner(t *testing.T) {
	learner := uuid.New()
	lesson := lessonWithDefaults(nil)
	svc := NewProgressService(newFakeLessons(lesson), newFakeEvents(), newFakeProgress(), fakeMembers{}, &fakePublisher{}, testLogger())

	got, err := svc.Get(context.Background(), models.Principal{UserID: learner}, learner, lesson.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalWatchedSeconds != 0 || got.IsCompleted {
		t.Fatalf("expected zero progress, got %+v", got)
	}

	_, err = svc.Get(context.Background(), models.Principal{UserID: learner}, learner, uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown lesson, got %v", err)
	}
}
