// Package jobqueue is a Redis list backed job queue with retry and a dead-letter list.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rediskeys "github.com/arcade-kiosk/server/pkg/redis"
)

const (
	// DefaultMaxAttempts is the number of times a job runs before moving to the DLQ.
	DefaultMaxAttempts = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// dequeueWait bounds each blocking pop so a cancelled context is noticed.
	dequeueWait = 2 * time.Second
	// requeueTimeout bounds a retry or DLQ push, which outlives the caller's context.
	requeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSessionResults JobType = "session_results"
)

// PlayerResult is one player's line in a session results job.
type PlayerResult struct {
	PlayerID    int64 `json:"player_id"`
	Score       int   `json:"score"`
	PlayTimeSec int   `json:"play_time_sec"`
}

// SessionResultsPayload is the payload for session results jobs.
type SessionResultsPayload struct {
	SessionID int64          `json:"session_id"`
	KioskID   string         `json:"kiosk_id"`
	GameID    string         `json:"game_id"`
	EndedAt   time.Time      `json:"ended_at"`
	Players   []PlayerResult `json:"players"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client      redis.UniversalClient
	jobsKey     string
	dlqKey      string
	maxAttempts int
	logger      *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts sets how many times a job may run before it goes to the DLQ.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueue creates a Redis-backed job queue whose keys live under prefix.
func NewQueue(client redis.UniversalClient, prefix string, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		jobsKey:     rediskeys.Key(prefix, "jobs", "results"),
		dlqKey:      rediskeys.Key(prefix, "jobs", "dlq"),
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueSessionResults enqueues a session results job.
func (q *Queue) EnqueueSessionResults(ctx context.Context, payload SessionResultsPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeSessionResults,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, q.jobsKey, &job); err != nil {
		return err
	}
	q.logger.Debug("enqueued session results job", zap.String("job_id", job.ID), zap.Int64("session_id", payload.SessionID))
	return nil
}

// Dequeue waits briefly for a job. It returns a nil job when none arrived, or
// when the popped entry could not be decoded.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueWait, q.jobsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. Once the attempts are
// used up the job goes to the DLQ instead; dead reports which happened.
// The job has already left the list, so the push ignores cancellation of ctx
// and is bounded by its own timeout.
func (q *Queue) Retry(ctx context.Context, job *Job) (dead bool, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	job.Attempt++
	if job.Attempt >= q.maxAttempts {
		if err := q.push(ctx, q.dlqKey, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.push(ctx, q.jobsKey, job); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.jobsKey).Result()
}

// DeadLetters returns the jobs in the DLQ, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]Job, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		var job Job
		if err := json.Unmarshal([]byte(r), &job); err != nil {
			return nil, fmt.Errorf("decode dlq entry: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}
