package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

func TestRecomputeKeys(t *testing.T) {
	pair := models.PairKey{UserID: uuid.New(), LessonID: uuid.New()}
	other := models.PairKey{UserID: pair.UserID, LessonID: uuid.New()}

	if PendingKey(pair) == LockKey(pair) {
		t.Fatalf("pending marker and lock must not share a key")
	}
	if PendingKey(pair) == PendingKey(other) {
		t.Fatalf("keys must differ per lesson")
	}
	if !strings.HasPrefix(LockKey(pair), "progress_lock:") || !strings.Contains(LockKey(pair), pair.LessonID.String()) {
		t.Fatalf("unexpected lock key %q", LockKey(pair))
	}
}

func TestRecomputeQueue_Unconfigured(t *testing.T) {
	var q *RecomputeQueueClient
	if err := q.Schedule(context.Background(), models.PairKey{}); err == nil {
		t.Fatalf("expected an error from an unconfigured queue")
	}
	if err := NewRecomputeQueue(nil).Schedule(context.Background(), models.PairKey{}); err == nil {
		t.Fatalf("expected an error without a redis client")
	}
}

func TestPublisher_NilIsSilent(t *testing.T) {
	var p *Publisher
	p.PublishToUser(context.Background(), uuid.New(), models.WSMessage{Type: "progress_updated"})
	p.PublishAlert(context.Background(), nil, models.WSMessage{Type: "alert_raised"})

	org := uuid.New()
	if OrgAlertsChannel(org) == AllAlertsChannel || UserChannel(org) == OrgAlertsChannel(org) {
		t.Fatalf("channels must be distinct")
	}
}
