// Package learn drains deferred-tier corrections into per-field
// aggregates that show where the prediction backends keep getting
// overridden.
package learn

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// Queue buffers deferred corrections between ingestion and the analyzer.
type Queue interface {
	Enqueue(ctx context.Context, c model.Correction) error
	// Dequeue removes and returns up to max corrections, oldest first.
	Dequeue(ctx context.Context, max int) ([]model.Correction, error)
	Len(ctx context.Context) (int64, error)
}

// RedisQueue is a Redis list: LPUSH on enqueue, RPOP batches on dequeue,
// so the analyzer sees corrections in submission order. Survives engine
// restarts, which matters because deferred corrections may sit for hours.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue creates a queue under the given namespace.
func NewRedisQueue(rdb *redis.Client, namespace string) *RedisQueue {
	if namespace == "" {
		namespace = "formmonkey"
	}
	return &RedisQueue{rdb: rdb, key: namespace + ":learn:queue"}
}

func (q *RedisQueue) Enqueue(ctx context.Context, c model.Correction) error {
	data, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "learn: marshal correction")
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return eris.Wrap(err, "learn: lpush")
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, max int) ([]model.Correction, error) {
	if max <= 0 {
		max = 100
	}
	vals, err := q.rdb.RPopCount(ctx, q.key, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "learn: rpop")
	}

	out := make([]model.Correction, 0, len(vals))
	for _, v := range vals {
		var c model.Correction
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, eris.Wrap(err, "learn: unmarshal correction")
		}
		out = append(out, c)
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	return n, eris.Wrap(err, "learn: llen")
}

// MemoryQueue is the in-process fallback when Redis is not configured.
// Queued corrections do not survive a restart.
type MemoryQueue struct {
	mu    sync.Mutex
	corrs []model.Correction
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, c model.Correction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.corrs = append(q.corrs, c)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, max int) ([]model.Correction, error) {
	if max <= 0 {
		max = 100
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.corrs) == 0 {
		return nil, nil
	}
	n := min(max, len(q.corrs))
	out := make([]model.Correction, n)
	copy(out, q.corrs[:n])
	q.corrs = q.corrs[n:]
	return out, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.corrs)), nil
}
