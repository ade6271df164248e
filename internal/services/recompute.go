package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil-backend/internal/models"
)

const (
	RecomputeQueue = "queue:progress-recompute"

	pendingTTL = 5 * time.Minute
)

// PendingKey marks a pair that already has a recompute waiting in the queue.
func PendingKey(pair models.PairKey) string {
	return fmt.Sprintf("progress_pending:%s:%s", pair.UserID, pair.LessonID)
}

// LockKey serializes recomputes of one pair across workers.
func LockKey(pair models.PairKey) string {
	return fmt.Sprintf("progress_lock:%s:%s", pair.UserID, pair.LessonID)
}

type RecomputeQueueClient struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRecomputeQueue(redisClient *redis.Client) *RecomputeQueueClient {
	return &RecomputeQueueClient{redis: redisClient, now: time.Now}
}

// Schedule enqueues a recompute for the pair unless one is already pending.
// Bursts of ingests for the same pair collapse into a single job.
func (q *RecomputeQueueClient) Schedule(ctx context.Context, pair models.PairKey) error {
	if q == nil || q.redis == nil {
		return fmt.Errorf("recompute queue is not configured")
	}

	fresh, err := q.redis.SetNX(ctx, PendingKey(pair), "1", pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to mark recompute pending: %w", err)
	}
	if !fresh {
		return nil
	}

	if err := q.Enqueue(ctx, models.RecomputeJob{
		UserID:     pair.UserID,
		LessonID:   pair.LessonID,
		EnqueuedAt: q.now().UTC(),
	}); err != nil {
		q.redis.Del(ctx, PendingKey(pair))
		return err
	}
	return nil
}

// Enqueue pushes a job without the pending check; the worker uses it for retries.
func (q *RecomputeQueueClient) Enqueue(ctx context.Context, job models.RecomputeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode recompute job: %w", err)
	}
	if err := q.redis.LPush(ctx, RecomputeQueue, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue recompute: %w", err)
	}
	return nil
}
