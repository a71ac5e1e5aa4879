package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-kiosk/server/internal/leaderboard"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/pkg/jobqueue"
)

type fakeRecorder struct {
	mu    sync.Mutex
	fail  int
	calls map[string][]leaderboard.Score
}

func (r *fakeRecorder) Record(_ context.Context, gameID string, scores []leaderboard.Score) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("redis unavailable")
	}
	if r.calls == nil {
		r.calls = make(map[string][]leaderboard.Score)
	}
	r.calls[gameID] = append(r.calls[gameID], scores...)
	return nil
}

func (r *fakeRecorder) recorded(gameID string) []leaderboard.Score {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[gameID]
}

func makeQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { _ = rc.Close() })
	return jobqueue.NewQueue(rc, "test")
}

func endedSession() *models.GameSession {
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.GameSession{
		ID:      4,
		KioskID: "alpha1",
		GameID:  "G1",
		Status:  models.StatusEnded,
		EndedAt: &ended,
		Players: []models.SessionPlayer{
			{PlayerID: 7, Score: 40, PlayTimeSec: 120},
			{PlayerID: 9, Score: 55, PlayTimeSec: 118},
		},
	}
}

func TestResultsSink_Process(t *testing.T) {
	q := makeQueue(t)
	ctx := context.Background()
	require.NoError(t, NewResultsSink(q).SessionEnded(ctx, endedSession()))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	rec := &fakeRecorder{}
	p := NewResultsProcessor(q, rec, nil)
	require.NoError(t, p.Process(ctx, job))
	assert.Equal(t, []leaderboard.Score{{PlayerID: 7, Score: 40}, {PlayerID: 9, Score: 55}}, rec.recorded("G1"))
}

func TestResultsProcessor_UnknownJob(t *testing.T) {
	p := NewResultsProcessor(makeQueue(t), &fakeRecorder{}, nil)
	err := p.Process(context.Background(), &jobqueue.Job{Type: "email"})
	assert.Error(t, err)
}

func TestResultsProcessor_Run(t *testing.T) {
	q := makeQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewResultsSink(q).SessionEnded(ctx, endedSession()))

	rec := &fakeRecorder{fail: 1}
	p := NewResultsProcessor(q, rec, nil)
	p.backoff = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rec.recorded("G1")) == 2
	}, 5*time.Second, 20*time.Millisecond, "job is retried after the first failure")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// cancelingRecorder stops the worker while a job is in flight.
type cancelingRecorder struct {
	cancel context.CancelFunc
}

func (r *cancelingRecorder) Record(ctx context.Context, _ string, _ []leaderboard.Score) error {
	r.cancel()
	return ctx.Err()
}

func TestResultsProcessor_RunKeepsJobOnShutdown(t *testing.T) {
	q := makeQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewResultsSink(q).SessionEnded(ctx, endedSession()))

	p := NewResultsProcessor(q, &cancelingRecorder{cancel: cancel}, nil)
	p.backoff = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "an interrupted job is requeued")

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempt)
}
