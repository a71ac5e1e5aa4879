package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arcade-kiosk/server/internal/leaderboard"
	"github.com/arcade-kiosk/server/internal/metrics"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/pkg/jobqueue"
)

// Recorder stores a game's scores. *leaderboard.Service implements it.
type Recorder interface {
	Record(ctx context.Context, gameID string, scores []leaderboard.Score) error
}

// ResultsSink turns ended sessions into results jobs.
type ResultsSink struct {
	queue *jobqueue.Queue
}

// NewResultsSink creates a sink that enqueues onto q.
func NewResultsSink(q *jobqueue.Queue) *ResultsSink {
	return &ResultsSink{queue: q}
}

// SessionEnded enqueues the session's results.
func (s *ResultsSink) SessionEnded(ctx context.Context, sess *models.GameSession) error {
	payload := jobqueue.SessionResultsPayload{
		SessionID: sess.ID,
		KioskID:   sess.KioskID,
		GameID:    sess.GameID,
		Players:   make([]jobqueue.PlayerResult, 0, len(sess.Players)),
	}
	if sess.EndedAt != nil {
		payload.EndedAt = *sess.EndedAt
	}
	for _, p := range sess.Players {
		payload.Players = append(payload.Players, jobqueue.PlayerResult{
			PlayerID:    p.PlayerID,
			Score:       p.Score,
			PlayTimeSec: p.PlayTimeSec,
		})
	}
	return s.queue.EnqueueSessionResults(ctx, payload)
}

// ResultsProcessor processes session results jobs: it records each player's score on the game leaderboard.
type ResultsProcessor struct {
	queue   *jobqueue.Queue
	board   Recorder
	backoff time.Duration
	logger  *zap.Logger
}

// NewResultsProcessor creates a results processor.
func NewResultsProcessor(q *jobqueue.Queue, board Recorder, logger *zap.Logger) *ResultsProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultsProcessor{queue: q, board: board, backoff: jobqueue.RetryBackoff, logger: logger}
}

// Process executes one results job.
func (p *ResultsProcessor) Process(ctx context.Context, job *jobqueue.Job) error {
	if job.Type != jobqueue.JobTypeSessionResults {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload jobqueue.SessionResultsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	scores := make([]leaderboard.Score, 0, len(payload.Players))
	for _, pr := range payload.Players {
		scores = append(scores, leaderboard.Score{PlayerID: pr.PlayerID, Score: pr.Score})
	}
	if err := p.board.Record(ctx, payload.GameID, scores); err != nil {
		return fmt.Errorf("record scores: %w", err)
	}

	p.logger.Info("session results recorded",
		zap.Int64("session_id", payload.SessionID),
		zap.String("game_id", payload.GameID),
		zap.Int("players", len(scores)),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *ResultsProcessor) Run(ctx context.Context) error {
	p.logger.Info("results worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("results worker stopping")
			return nil
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			dead, reErr := p.queue.Retry(ctx, job)
			switch {
			case reErr != nil:
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			case dead:
				metrics.ResultJobs.WithLabelValues("dead").Inc()
			default:
				metrics.ResultJobs.WithLabelValues("retried").Inc()
			}
			p.sleep(ctx)
			continue
		}
		metrics.ResultJobs.WithLabelValues("done").Inc()
	}
}

func (p *ResultsProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
