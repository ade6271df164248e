package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
	"vigil-backend/internal/services"
)

const (
	maxAttempts = 3
	lockTTL     = 2 * time.Minute
	lockedRetry = time.Second
	popTimeout  = 30 * time.Second
	jobTimeout  = time.Minute
)

type recomputer interface {
	Recompute(ctx context.Context, pair models.PairKey) (*models.VideoProgress, error)
}

type requeuer interface {
	Enqueue(ctx context.Context, job models.RecomputeJob) error
}

// pairLock guards one (user, lesson) pair across workers and processes.
type pairLock interface {
	Acquire(ctx context.Context, pair models.PairKey) (bool, error)
	Release(ctx context.Context, pair models.PairKey)
	ClearPending(ctx context.Context, pair models.PairKey)
}

// Pool drains the progress recompute queue.
type Pool struct {
	redis       *redis.Client
	progress    recomputer
	queue       requeuer
	locks       pairLock
	workerCount int
	after       func(d time.Duration, f func()) *time.Timer
	stopChan    chan struct{}
	wg          sync.WaitGroup
	log         *logrus.Entry
}

func NewPool(
	redisClient *redis.Client,
	progress recomputer,
	queue requeuer,
	workerCount int,
	logger *logrus.Logger,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		progress:    progress,
		queue:       queue,
		locks:       &redisLocks{redis: redisClient},
		workerCount: workerCount,
		after:       time.AfterFunc,
		stopChan:    make(chan struct{}),
		log:         logger.WithField("component", "worker"),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.log.WithField("workers", p.workerCount).Info("recompute workers started")
}

// Stop signals the workers and waits for in-flight jobs. A worker blocked on
// BLPOP exits once the pop times out.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)

	for {
		select {
		case <-p.stopChan:
			log.Debug("worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, popTimeout, services.RecomputeQueue).Result()
		if err != nil {
			if err != redis.Nil {
				log.WithError(err).Warn("queue pop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		job, err := decodeJob(result[1])
		if err != nil {
			log.WithError(err).Error("dropping malformed recompute job")
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		p.process(jobCtx, job)
		cancel()
	}
}

func decodeJob(raw string) (models.RecomputeJob, error) {
	var job models.RecomputeJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, fmt.Errorf("failed to parse job: %w", err)
	}
	if job.UserID == uuid.Nil || job.LessonID == uuid.Nil {
		return job, fmt.Errorf("job is missing user_id or lesson_id")
	}
	return job, nil
}

// backoff is the delay before retry attempt n (1-based).
func backoff(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * time.Second
}

// process runs one job. A pair already locked by another worker is put back
// shortly; a failed recompute is retried with exponential backoff.
func (p *Pool) process(ctx context.Context, job models.RecomputeJob) {
	pair := models.PairKey{UserID: job.UserID, LessonID: job.LessonID}
	entry := p.log.WithFields(logrus.Fields{
		"user_id":   pair.UserID,
		"lesson_id": pair.LessonID,
		"attempt":   job.RetryCount + 1,
	})

	locked, err := p.locks.Acquire(ctx, pair)
	if err != nil || !locked {
		p.requeueAfter(job, lockedRetry, entry)
		return
	}
	defer p.locks.Release(context.Background(), pair)

	// Events arriving from now on need a fresh run.
	p.locks.ClearPending(ctx, pair)

	if _, err := p.progress.Recompute(ctx, pair); err != nil {
		p.handleFailure(job, err, entry)
		return
	}
	entry.Debug("progress recomputed")
}

func (p *Pool) handleFailure(job models.RecomputeJob, err error, entry *logrus.Entry) {
	job.RetryCount++
	if job.RetryCount < maxAttempts {
		entry.WithError(err).Warn("recompute failed, retrying")
		p.requeueAfter(job, backoff(job.RetryCount), entry)
		return
	}
	entry.WithError(err).Error("recompute failed permanently")
}

func (p *Pool) requeueAfter(job models.RecomputeJob, delay time.Duration, entry *logrus.Entry) {
	p.after(delay, func() {
		if err := p.queue.Enqueue(context.Background(), job); err != nil {
			entry.WithError(err).Error("failed to requeue recompute")
		}
	})
}

type redisLocks struct {
	redis *redis.Client
}

func (l *redisLocks) Acquire(ctx context.Context, pair models.PairKey) (bool, error) {
	return l.redis.SetNX(ctx, services.LockKey(pair), "1", lockTTL).Result()
}

func (l *redisLocks) Release(ctx context.Context, pair models.PairKey) {
	l.redis.Del(ctx, services.LockKey(pair))
}

func (l *redisLocks) ClearPending(ctx context.Context, pair models.PairKey) {
	l.redis.Del(ctx, services.PendingKey(pair))
}
