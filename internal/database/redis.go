package database

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps pub/sub on its own connection pool so long-lived
// subscriptions never starve the queue and lock commands.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// QueuePoolSize makes room for one blocking BLPOP connection per recompute
// worker on top of the client's regular pool.
func QueuePoolSize(base, workers int) int {
	if base <= 0 {
		base = 10 * runtime.GOMAXPROCS(0)
	}
	return base + workers
}

// NewRedisClients connects the queue client, sized for the worker pool, and a
// separate pub/sub client for the websocket hub.
func NewRedisClients(redisURL string, workers int) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	pubsubOpt := *opt
	opt.PoolSize = QueuePoolSize(opt.PoolSize, workers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queueClient := redis.NewClient(opt)
	if err := queueClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (queue): %w", err)
	}

	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Queue:  queueClient,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
}
