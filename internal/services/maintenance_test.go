package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

type fakeReclaimer struct {
	cutoff time.Time
	closed int64
	err    error
}

func (f *fakeReclaimer) DeactivateStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.closed, f.err
}

type fakeSweeper struct {
	concurrent, shared int
	err                error
}

func (f *fakeSweeper) SweepConcurrent(context.Context, time.Time) (int, error) {
	return f.concurrent, nil
}

func (f *fakeSweeper) SweepFingerprints(context.Context, time.Time) (int, error) {
	return f.shared, f.err
}

type fakeResolver struct {
	seconds float64
	err     error
	calls   int
}

func (f *fakeResolver) Resolve(context.Context, string) (float64, error) {
	f.calls++
	return f.seconds, f.err
}

func TestMaintenanceRunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	broken := &models.VideoLesson{ID: uuid.New(), Title: "No length", VideoRef: "https://youtu.be/dQw4w9WgXcQ"}
	fine := &models.VideoLesson{ID: uuid.New(), Title: "Fine", DurationSeconds: 300}
	reclaimer := &fakeReclaimer{closed: 3}
	resolver := &fakeResolver{seconds: 212}

	svc := NewMaintenanceService(reclaimer, &fakeSweeper{concurrent: 1, shared: 2}, newFakeLessons(broken, fine), resolver, time.Minute, testLogger())
	svc.now = func() time.Time { return now }

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reclaimer.cutoff.Equal(now.Add(-time.Minute)) {
		t.Fatalf("expected cutoff one timeout ago, got %v", reclaimer.cutoff)
	}
	if report.StaleSessionsClosed != 3 || report.ConcurrentAlerts != 1 || report.FingerprintAlerts != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.LessonsNeedingAttention) != 1 {
		t.Fatalf("expected one lesson needing attention, got %d", len(report.LessonsNeedingAttention))
	}
	att := report.LessonsNeedingAttention[0]
	if att.LessonID != broken.ID || att.Reason != ReasonDurationMissing || att.SuggestedDurationSeconds == nil || *att.SuggestedDurationSeconds != 212 {
		t.Fatalf("unexpected attention entry: %+v", att)
	}
}

func TestMaintenanceRunOnce_StepsAreIndependent(t *testing.T) {
	reclaimer := &fakeReclaimer{err: fmt.Errorf("db down")}
	svc := NewMaintenanceService(reclaimer, &fakeSweeper{shared: 4}, newFakeLessons(), nil, time.Minute, testLogger())

	report, err := svc.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if report.FingerprintAlerts != 4 {
		t.Fatalf("expected later steps to still run, got %+v", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %v", report.Errors)
	}
}

func TestLessonsNeedingAttention_Scope(t *testing.T) {
	org := uuid.New()
	mine := &models.VideoLesson{ID: uuid.New(), OrganizationID: &org, VideoRef: "upload-42"}
	theirs := &models.VideoLesson{ID: uuid.New(), VideoRef: "upload-43"}
	resolver := &fakeResolver{seconds: 10}
	svc := NewMaintenanceService(&fakeReclaimer{}, &fakeSweeper{}, newFakeLessons(mine, theirs), resolver, time.Minute, testLogger())

	got, err := svc.LessonsNeedingAttention(context.Background(), models.Principal{Role: models.RoleOrgAdmin, OrganizationID: &org})
	if err != nil {
		t.Fatalf("attention: %v", err)
	}
	if len(got) != 1 || got[0].LessonID != mine.ID {
		t.Fatalf("expected only the organization's lesson, got %+v", got)
	}
	if got[0].SuggestedDurationSeconds != nil || resolver.calls != 0 {
		t.Fatalf("non-YouTube references must not be looked up")
	}

	_, err = svc.LessonsNeedingAttention(context.Background(), models.Principal{Role: models.RoleStudent})
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError for learners, got %v", err)
	}
}

func TestMaintenanceStart_Disabled(t *testing.T) {
	svc := NewMaintenanceService(&fakeReclaimer{}, &fakeSweeper{}, newFakeLessons(), nil, time.Minute, testLogger())
	if err := svc.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop()
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=42", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://vimeo.com/123456", "", false},
		{"upload-42", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractVideoID(tt.ref)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractVideoID(%q) = %q, %v; want %q, %v", tt.ref, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildGradebook(t *testing.T) {
	org := uuid.New()
	a, b, idle := uuid.New(), uuid.New(), uuid.New()
	l1 := lessonWithDefaults(&org)
	l1.Title = "One"
	l2 := lessonWithDefaults(&org)
	l2.Title = "Two"
	l2.Weight = 2

	rows := map[uuid.UUID][]*models.VideoProgress{
		l1.ID: {
			{UserID: a, LessonID: l1.ID, CompletionPercentage: 100},
			{UserID: b, LessonID: l1.ID, CompletionPercentage: 50},
		},
		l2.ID: {
			{UserID: a, LessonID: l2.ID, CompletionPercentage: 90},
		},
	}

	grades, totals := buildGradebook([]*models.VideoLesson{l1, l2}, rows, []uuid.UUID{idle})

	if len(grades) != 3 {
		t.Fatalf("expected one grade row per progress row, got %d", len(grades))
	}
	if len(totals) != 3 {
		t.Fatalf("expected totals for both learners and the idle member, got %d", len(totals))
	}

	byUser := make(map[uuid.UUID]models.TotalVideoGrade)
	for _, tot := range totals {
		byUser[tot.UserID] = tot
	}
	if got := byUser[a]; got.TotalScore != 200 || got.MaxPossibleScore != 300 || got.CompletedVideos != 2 {
		t.Fatalf("unexpected totals for a: %+v", got)
	}
	if got := byUser[idle]; got.TotalScore != 0 || got.TotalVideos != 2 {
		t.Fatalf("expected idle member graded zero on both lessons, got %+v", got)
	}

	f, err := writeWorkbook(grades, totals)
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}
	defer f.Close()

	title, err := f.GetCellValue(gradesSheet, "C2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if title != "One" && title != "Two" {
		t.Fatalf("expected lesson title in column C, got %q", title)
	}
	header, _ := f.GetCellValue(totalsSheet, "A1")
	if header != "user_id" {
		t.Fatalf("expected totals header, got %q", header)
	}
}

func TestIsTransient(t *testing.T) {
	if !isTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline exceeded should be transient")
	}
	if !isTransient(&TransientError{Message: "x"}) {
		t.Fatalf("TransientError should be transient")
	}
	if isTransient(errors.New("constraint violated")) {
		t.Fatalf("plain errors are not transient")
	}
	if isTransient(nil) {
		t.Fatalf("nil is not transient")
	}
}
