package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/anomaly"
	"vigil-backend/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeSessionStore struct {
	mu       sync.Mutex
	clock    *fakeClock
	byToken  map[string]*models.ViewingSession
	startErr error
}

func newFakeSessionStore(clock *fakeClock) *fakeSessionStore {
	return &fakeSessionStore{clock: clock, byToken: make(map[string]*models.ViewingSession)}
}

func (f *fakeSessionStore) Start(_ context.Context, s *models.ViewingSession) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return 0, f.startErr
	}
	var superseded int64
	now := f.clock.Now()
	for _, other := range f.byToken {
		if other.UserID == s.UserID && other.LessonID == s.LessonID && other.IsActive {
			other.IsActive = false
			reason := models.EndReasonSuperseded
			other.EndReason = &reason
			other.EndedAt = &now
			superseded++
		}
	}
	s.ID = uuid.New()
	s.StartedAt = now
	s.LastHeartbeatAt = now
	s.LastSeenAt = now
	s.IsActive = true
	stored := *s
	f.byToken[s.Token] = &stored
	return superseded, nil
}

func (f *fakeSessionStore) GetByToken(_ context.Context, token string) (*models.ViewingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byToken[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *s
	return &out, nil
}

func (f *fakeSessionStore) byID(id uuid.UUID) *models.ViewingSession {
	for _, s := range f.byToken {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (f *fakeSessionStore) Heartbeat(_ context.Context, id uuid.UUID) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.byID(id)
	if s == nil || !s.IsActive {
		return time.Time{}, pgx.ErrNoRows
	}
	s.LastHeartbeatAt = f.clock.Now()
	s.LastSeenAt = s.LastHeartbeatAt
	return s.LastHeartbeatAt, nil
}

func (f *fakeSessionStore) MarkSeen(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.byID(id); s != nil {
		s.LastSeenAt = f.clock.Now()
	}
	return nil
}

func (f *fakeSessionStore) Deactivate(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.byID(id)
	if s == nil || !s.IsActive {
		return nil
	}
	now := f.clock.Now()
	s.IsActive = false
	s.EndedAt = &now
	s.EndReason = &reason
	return nil
}

func (f *fakeSessionStore) active(userID, lessonID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.byToken {
		if s.UserID == userID && s.LessonID == lessonID && s.IsActive {
			n++
		}
	}
	return n
}

type fakeLessons struct {
	byID map[uuid.UUID]*models.VideoLesson
	err  error
}

func newFakeLessons(lessons ...*models.VideoLesson) *fakeLessons {
	f := &fakeLessons{byID: make(map[uuid.UUID]*models.VideoLesson)}
	for _, l := range lessons {
		f.byID[l.ID] = l
	}
	return f
}

func (f *fakeLessons) GetByID(_ context.Context, id uuid.UUID) (*models.VideoLesson, error) {
	if f.err != nil {
		return nil, f.err
	}
	l, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *l
	return &out, nil
}

func (f *fakeLessons) UpdateGradeConfig(_ context.Context, id uuid.UUID, cfg models.GradeConfig) (*models.VideoLesson, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	l.Weight = cfg.Weight
	l.MinCompletionPercent = cfg.MinCompletionPercent
	l.PenaltyRate = cfg.PenaltyRate
	l.BonusRate = cfg.BonusRate
	out := *l
	return &out, nil
}

func (f *fakeLessons) ListForUser(_ context.Context, _ uuid.UUID) ([]*models.VideoLesson, error) {
	return f.ListByOrganization(context.Background(), nil)
}

func (f *fakeLessons) ListByOrganization(_ context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error) {
	out := make([]*models.VideoLesson, 0, len(f.byID))
	for _, l := range f.byID {
		if orgID == nil || (l.OrganizationID != nil && *l.OrganizationID == *orgID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLessons) ListMissingDuration(_ context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error) {
	if f.err != nil {
		return nil, f.err
	}
	all, _ := f.ListByOrganization(context.Background(), orgID)
	var out []*models.VideoLesson
	for _, l := range all {
		if l.DurationSeconds <= 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	appended  []models.ViewingEvent
	appendErr error
	findings  map[uuid.UUID][]map[string]any
	reviews   map[uuid.UUID]map[string]any
	shared    []anomaly.FingerprintUse
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		findings: make(map[uuid.UUID][]map[string]any),
		reviews:  make(map[uuid.UUID]map[string]any),
	}
}

func (f *fakeEvents) AppendBatch(_ context.Context, events []models.ViewingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	for _, ev := range events {
		ev.Seq = int64(len(f.appended) + 1)
		f.appended = append(f.appended, ev)
	}
	return nil
}

func (f *fakeEvents) ListForSession(_ context.Context, sessionID uuid.UUID) ([]models.ViewingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ViewingEvent
	for _, ev := range f.appended {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) ListForPair(_ context.Context, userID, lessonID uuid.UUID) ([]models.ViewingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ViewingEvent
	for _, ev := range f.appended {
		if ev.UserID == userID && ev.LessonID == lessonID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) AppendFinding(_ context.Context, ids []uuid.UUID, finding map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.findings[id] = append(f.findings[id], finding)
	}
	return nil
}

func (f *fakeEvents) StampReview(_ context.Context, ids []uuid.UUID, verdict map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.reviews[id] = verdict
	}
	return nil
}

func (f *fakeEvents) ListSharedFingerprintUses(_ context.Context, _ time.Time) ([]anomaly.FingerprintUse, error) {
	return f.shared, nil
}

type fakeDetector struct {
	inspected  int
	concurrent int
	found      []models.AlertType
	err        error
}

func (f *fakeDetector) Inspect(_ context.Context, _ *models.ViewingSession) ([]models.AlertType, error) {
	f.inspected++
	return f.found, f.err
}

func (f *fakeDetector) CheckConcurrent(_ context.Context, _ *models.ViewingSession) error {
	f.concurrent++
	return f.err
}

type fakeQueue struct {
	scheduled []models.PairKey
	err       error
}

func (f *fakeQueue) Schedule(_ context.Context, pair models.PairKey) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, pair)
	return nil
}

type fakeRecomputer struct {
	calls int
	err   error
}

func (f *fakeRecomputer) Recompute(_ context.Context, pair models.PairKey) (*models.VideoProgress, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.VideoProgress{UserID: pair.UserID, LessonID: pair.LessonID}, nil
}

type fakePublisher struct {
	user   []models.WSMessage
	alerts []models.WSMessage
}

func (f *fakePublisher) PublishToUser(_ context.Context, _ uuid.UUID, msg models.WSMessage) {
	f.user = append(f.user, msg)
}

func (f *fakePublisher) PublishAlert(_ context.Context, _ *uuid.UUID, msg models.WSMessage) {
	f.alerts = append(f.alerts, msg)
}

// fakeAlertStore keeps at most one active alert per (user, lesson, type).
type fakeAlertStore struct {
	alerts     map[uuid.UUID]*models.SecurityAlert
	suspicious map[models.PairKey]int
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		alerts:     make(map[uuid.UUID]*models.SecurityAlert),
		suspicious: make(map[models.PairKey]int),
	}
}

func (f *fakeAlertStore) Raise(_ context.Context, a *models.SecurityAlert) (bool, error) {
	for _, existing := range f.alerts {
		if existing.UserID == a.UserID && existing.LessonID == a.LessonID &&
			existing.AlertType == a.AlertType && existing.Status == models.AlertActive {
			existing.Retrigger(a)
			*a = *existing
			return false, nil
		}
	}
	a.ID = uuid.New()
	a.Status = models.AlertActive
	a.TriggerCount = 1
	stored := *a
	f.alerts[a.ID] = &stored
	f.suspicious[models.PairKey{UserID: a.UserID, LessonID: a.LessonID}]++
	return true, nil
}

func (f *fakeAlertStore) GetByID(_ context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *a
	return &out, nil
}

func (f *fakeAlertStore) List(_ context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, int, error) {
	var out []*models.SecurityAlert
	for _, a := range f.alerts {
		if filter.OrganizationID != nil && (a.OrganizationID == nil || *a.OrganizationID != *filter.OrganizationID) {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (f *fakeAlertStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.AlertStatus, reviewer uuid.UUID, notes string) (*models.SecurityAlert, error) {
	a, ok := f.alerts[id]
	if !ok || a.Status != models.AlertActive {
		return nil, pgx.ErrNoRows
	}
	a.Status = status
	a.ReviewedBy = &reviewer
	if notes != "" {
		a.ReviewNotes = &notes
	}
	out := *a
	return &out, nil
}

type fakeProgress struct {
	rows map[models.PairKey]*models.VideoProgress
	err  error
}

func newFakeProgress(rows ...*models.VideoProgress) *fakeProgress {
	f := &fakeProgress{rows: make(map[models.PairKey]*models.VideoProgress)}
	for _, r := range rows {
		f.rows[models.PairKey{UserID: r.UserID, LessonID: r.LessonID}] = r
	}
	return f
}

func (f *fakeProgress) Get(_ context.Context, userID, lessonID uuid.UUID) (*models.VideoProgress, error) {
	r, ok := f.rows[models.PairKey{UserID: userID, LessonID: lessonID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *r
	return &out, nil
}

func (f *fakeProgress) ListForUser(_ context.Context, userID uuid.UUID) ([]*models.VideoProgress, error) {
	var out []*models.VideoProgress
	for k, r := range f.rows {
		if k.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeProgress) ListForLesson(_ context.Context, lessonID uuid.UUID) ([]*models.VideoProgress, error) {
	var out []*models.VideoProgress
	for k, r := range f.rows {
		if k.LessonID == lessonID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeProgress) Recompute(_ context.Context, userID, lessonID uuid.UUID, fn func(prev models.VideoProgress) (models.VideoProgress, error)) (*models.VideoProgress, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := models.PairKey{UserID: userID, LessonID: lessonID}
	prev, ok := f.rows[key]
	if !ok {
		prev = &models.VideoProgress{UserID: userID, LessonID: lessonID}
	}
	next, err := fn(*prev)
	if err != nil {
		return nil, err
	}
	f.rows[key] = &next
	out := next
	return &out, nil
}

func (f *fakeProgress) SetGradeContribution(_ context.Context, userID, lessonID uuid.UUID, contribution float64) error {
	if r, ok := f.rows[models.PairKey{UserID: userID, LessonID: lessonID}]; ok {
		r.GradeContribution = contribution
	}
	return nil
}

type fakeMembers map[uuid.UUID]uuid.UUID

func (f fakeMembers) IsMember(_ context.Context, userID, orgID uuid.UUID) (bool, error) {
	return f[userID] == orgID, nil
}

func (f fakeMembers) ListUserIDs(_ context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for u, o := range f {
		if o == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}
