package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue is a work queue on Redis for deployments where API and worker
// processes do not share a database file. Layout:
//
//	<prefix>:ids        SET   — dedup: ids currently in the queue
//	<prefix>:pending    LIST  — deliverable job ids (oldest at the tail)
//	<prefix>:processing LIST  — ids delivered but not yet acked
//	<prefix>:leases     ZSET  — id -> lease deadline (unix seconds)
//
// Expired leases are swept back from processing to pending on every Receive,
// which gives the same at-least-once redelivery contract as the SQLite
// backend.
type RedisQueue struct {
	rdb      *redis.Client
	prefix   string
	leaseFor time.Duration
	block    time.Duration
}

// RedisQueueConfig controls connection and lease behavior.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix (default "speakd:queue")
	LeaseFor time.Duration // visibility window per delivery (default 5m)
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "speakd:queue"
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 5 * time.Minute
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisQueue{
		rdb:      rdb,
		prefix:   cfg.Prefix,
		leaseFor: cfg.LeaseFor,
		block:    time.Second,
	}, nil
}

func (q *RedisQueue) idsKey() string        { return q.prefix + ":ids" }
func (q *RedisQueue) pendingKey() string    { return q.prefix + ":pending" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) leasesKey() string     { return q.prefix + ":leases" }

// Enqueue adds a job id. The SADD guard makes it idempotent per id.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	added, err := q.rdb.SAdd(ctx, q.idsKey(), jobID).Result()
	if err != nil {
		return fmt.Errorf("enqueue sadd: %w", err)
	}
	if added == 0 {
		return nil // already queued
	}
	if err := q.rdb.LPush(ctx, q.pendingKey(), jobID).Err(); err != nil {
		return fmt.Errorf("enqueue lpush: %w", err)
	}
	return nil
}

// Receive blocks until an item is deliverable or the context ends.
func (q *RedisQueue) Receive(ctx context.Context) (string, error) {
	for {
		if err := q.reclaimExpired(ctx); err != nil {
			return "", err
		}

		jobID, err := q.rdb.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), q.block).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("receive: %w", err)
		}

		deadline := float64(time.Now().Add(q.leaseFor).Unix())
		if err := q.rdb.ZAdd(ctx, q.leasesKey(), &redis.Z{Score: deadline, Member: jobID}).Err(); err != nil {
			return "", fmt.Errorf("record lease: %w", err)
		}
		return jobID, nil
	}
}

// Ack removes a delivered item from all bookkeeping keys.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, jobID)
	pipe.ZRem(ctx, q.leasesKey(), jobID)
	pipe.SRem(ctx, q.idsKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// reclaimExpired moves items whose lease has lapsed back to pending.
func (q *RedisQueue) reclaimExpired(ctx context.Context) error {
	nowScore := strconv.FormatInt(time.Now().Unix(), 10)
	expired, err := q.rdb.ZRangeByScore(ctx, q.leasesKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: nowScore,
	}).Result()
	if err != nil {
		return fmt.Errorf("reclaim scan: %w", err)
	}
	for _, jobID := range expired {
		// Only the caller that removes the lease entry requeues the item,
		// so concurrent sweepers cannot duplicate it.
		removed, err := q.rdb.ZRem(ctx, q.leasesKey(), jobID).Result()
		if err != nil {
			return fmt.Errorf("reclaim zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, jobID)
		pipe.LPush(ctx, q.pendingKey(), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reclaim requeue: %w", err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error { return q.rdb.Close() }
