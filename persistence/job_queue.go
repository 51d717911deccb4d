package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultJobQueueKey is the Redis list jobs are pushed onto.
const DefaultJobQueueKey = "codeanalysis:jobs"

// ErrQueueEmpty is returned by Pop when no job arrived before the timeout.
var ErrQueueEmpty = errors.New("job queue empty")

// Job is one queued agent run.
type Job struct {
	ID          string            `json:"id"`
	Goal        string            `json:"goal"`
	Command     []string          `json:"command"`
	Env         map[string]string `json:"env,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// RedisJobQueue is a FIFO of jobs on a Redis list.
type RedisJobQueue struct {
	client *redis.Client
	key    string
}

// NewRedisJobQueue connects to addr and checks the connection.
func NewRedisJobQueue(ctx context.Context, addr, key string) (*RedisJobQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisJobQueueWithClient(client, key), nil
}

// NewRedisJobQueueWithClient wraps an existing client.
func NewRedisJobQueueWithClient(client *redis.Client, key string) *RedisJobQueue {
	if key == "" {
		key = DefaultJobQueueKey
	}
	return &RedisJobQueue{client: client, key: key}
}

// Push appends job, assigning an id and timestamp when missing.
func (q *RedisJobQueue) Push(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

// Pop blocks up to timeout for the next job.
func (q *RedisJobQueue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	// BLPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Len reports the number of queued jobs.
func (q *RedisJobQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close closes the client.
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}
