package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

type sessionStore interface {
	Start(ctx context.Context, s *models.ViewingSession) (int64, error)
	GetByToken(ctx context.Context, token string) (*models.ViewingSession, error)
	Heartbeat(ctx context.Context, sessionID uuid.UUID) (time.Time, error)
	MarkSeen(ctx context.Context, sessionID uuid.UUID) error
	Deactivate(ctx context.Context, sessionID uuid.UUID, reason string) error
}

type lessonReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error)
}

type SessionService struct {
	sessions sessionStore
	lessons  lessonReader
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

func NewSessionService(sessions sessionStore, lessons lessonReader, interval, timeout time.Duration, logger *logrus.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		lessons:  lessons,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		log:      logger.WithField("component", "sessions"),
	}
}

// Start opens a session and supersedes any other active session for the same lesson.
func (s *SessionService) Start(ctx context.Context, p models.Principal, req models.StartSessionRequest, ip string) (*models.StartSessionResponse, error) {
	if req.LessonID == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{"lesson_id": "lesson_id is required"}}
	}

	lesson, err := s.lessons.GetByID(ctx, req.LessonID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Lesson not found"}
		}
		return nil, storageError("failed to load lesson", err)
	}

	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}

	session := &models.ViewingSession{
		Token:    token,
		UserID:   p.UserID,
		LessonID: lesson.ID,
		Fingerprint: models.Fingerprint{
			TabID:     req.TabID,
			UserAgent: req.UserAgent,
			IPAddress: ip,
		},
	}

	superseded, err := s.sessions.Start(ctx, session)
	if err != nil {
		return nil, storageError("failed to start session", err)
	}
	if superseded > 0 {
		s.log.WithFields(logrus.Fields{
			"user_id":    p.UserID,
			"lesson_id":  lesson.ID,
			"session_id": session.ID,
			"superseded": superseded,
		}).Info("superseded earlier viewing sessions")
	}

	return &models.StartSessionResponse{
		SessionToken:             token,
		SessionID:                session.ID,
		Lesson:                   lesson.Snapshot(),
		HeartbeatIntervalSeconds: int(s.interval / time.Second),
		HeartbeatTimeoutSeconds:  int(s.timeout / time.Second),
	}, nil
}

// Heartbeat keeps an active session alive. Inactive sessions are never revived.
func (s *SessionService) Heartbeat(ctx context.Context, p models.Principal, token string) (*models.ViewingSession, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.UserID != p.UserID {
		return nil, &NotFoundError{Message: "Session not found"}
	}

	s.markSeen(ctx, session)

	if err := s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	at, err := s.sessions.Heartbeat(ctx, session.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inactiveSession()
		}
		return nil, storageError("failed to record heartbeat", err)
	}
	session.LastHeartbeatAt = at
	return session, nil
}

// End is idempotent: ending an inactive session succeeds without changes.
func (s *SessionService) End(ctx context.Context, p models.Principal, token string) error {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	if session.UserID != p.UserID {
		return &NotFoundError{Message: "Session not found"}
	}
	if !session.IsActive {
		return nil
	}
	if err := s.sessions.Deactivate(ctx, session.ID, models.EndReasonEnded); err != nil {
		return storageError("failed to end session", err)
	}
	return nil
}

func (s *SessionService) lookup(ctx context.Context, token string) (*models.ViewingSession, error) {
	if token == "" {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Session not found"}
		}
		return nil, storageError("failed to load session", err)
	}
	return session, nil
}

func (s *SessionService) markSeen(ctx context.Context, session *models.ViewingSession) {
	if err := s.sessions.MarkSeen(ctx, session.ID); err != nil {
		s.log.WithError(err).WithField("session_id", session.ID).Warn("failed to mark session seen")
		return
	}
	session.LastSeenAt = s.now()
}

// checkActive rejects inactive sessions and lazily times out stale ones.
func (s *SessionService) checkActive(ctx context.Context, session *models.ViewingSession) error {
	if !session.IsActive {
		return inactiveSession()
	}
	if session.Stale(s.now(), s.timeout) {
		if err := s.sessions.Deactivate(ctx, session.ID, models.EndReasonTimeout); err != nil {
			return storageError("failed to time out session", err)
		}
		session.IsActive = false
		reason := models.EndReasonTimeout
		session.EndReason = &reason
		s.log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"user_id":    session.UserID,
		}).Info("viewing session timed out")
		return inactiveSession()
	}
	return nil
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
