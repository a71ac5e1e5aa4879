// Package orchestrator is the only mutator of kiosk queue and session state.
//
// Each operation validates, runs one state machine transition, and after the
// transition commits broadcasts the resulting events. A per-kiosk lock is held
// from before the transition until the last broadcast so that observers see
// events for a kiosk in commit order.
package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/arcade-kiosk/server/internal/apperr"
	"github.com/arcade-kiosk/server/internal/gamesession"
	"github.com/arcade-kiosk/server/internal/metrics"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/realtime"
	"github.com/arcade-kiosk/server/internal/store"
)

// Broadcaster delivers events to observer channels. *realtime.Hub implements it.
type Broadcaster interface {
	BroadcastKiosk(kioskID string, ev realtime.KioskEvent)
	BroadcastGame(gameID string, ev realtime.GameEvent)
}

// ResultsSink receives every session ended with results, after it is committed.
type ResultsSink interface {
	SessionEnded(ctx context.Context, s *models.GameSession) error
}

// ResetResult is returned by ResetKiosk and DeleteKiosk.
type ResetResult struct {
	KioskID       string  `json:"kiosk_id"`
	Cleared       int     `json:"cleared"`
	EndedSessions []int64 `json:"ended_sessions"`
}

// Orchestrator binds the state machine to the broadcaster.
type Orchestrator struct {
	machine *gamesession.Machine
	store   store.Store
	hub     Broadcaster
	sink    ResultsSink
	locks   *kioskLocks
	logger  *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResultsSink sets where ended sessions are handed off.
func WithResultsSink(sink ResultsSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator.
func New(s store.Store, machine *gamesession.Machine, hub Broadcaster, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		machine: machine,
		store:   s,
		hub:     hub,
		locks:   newKioskLocks(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// JoinQueue enqueues the player and notifies the kiosk. The kiosk is notified
// even when the player was already queued so repeated scans refresh the UI.
func (o *Orchestrator) JoinQueue(ctx context.Context, kioskID string, playerID int64) (inserted bool, err error) {
	defer observe("join_queue", &err)

	unlock := o.locks.lock(kioskID)
	defer unlock()

	inserted, err = o.machine.Enqueue(ctx, kioskID, playerID)
	if err != nil {
		return false, err
	}
	o.hub.BroadcastKiosk(kioskID, realtime.QueueUpdate{})
	return inserted, nil
}

// LeaveQueue removes the player and notifies the kiosk if an entry was removed.
func (o *Orchestrator) LeaveQueue(ctx context.Context, kioskID string, playerID int64) (removed bool, err error) {
	defer observe("leave_queue", &err)

	unlock := o.locks.lock(kioskID)
	defer unlock()

	removed, err = o.machine.Leave(ctx, kioskID, playerID)
	if err != nil {
		return false, err
	}
	if removed {
		o.hub.BroadcastKiosk(kioskID, realtime.QueueUpdate{})
	}
	return removed, nil
}

// StartSession admits the kiosk queue into a running session. A repeated call
// while the session runs returns it with created=false and broadcasts nothing.
func (o *Orchestrator) StartSession(ctx context.Context, kioskID, mode string) (sess *models.GameSession, created bool, err error) {
	defer observe("start_session", &err)

	unlock := o.locks.lock(kioskID)
	defer unlock()

	sess, created, err = o.machine.Admit(ctx, kioskID, mode)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return sess, false, nil
	}

	o.logger.Info("session started",
		zap.Int64("session_id", sess.ID),
		zap.String("kiosk_id", kioskID),
		zap.String("game_id", sess.GameID),
		zap.Int("players", len(sess.Players)),
	)
	o.hub.BroadcastKiosk(kioskID, realtime.KioskSessionStarted{SessionID: sess.ID})
	o.hub.BroadcastGame(sess.GameID, gameSessionStarted(sess))
	return sess, true, nil
}

// EndSession records results for a running session and ends it.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID int64, results []models.PlayerResult, gameMetrics map[string]any) (sess *models.GameSession, err error) {
	defer observe("end_session", &err)

	cur, err := o.Session(ctx, sessionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.New(apperr.KindInvalidSession, apperr.WithMessagef("session %d not found", sessionID))
		}
		return nil, err
	}

	unlock := o.locks.lock(cur.KioskID)
	defer unlock()

	sess, err = o.machine.Complete(ctx, sessionID, results, gameMetrics)
	if err != nil {
		return nil, err
	}

	o.logger.Info("session ended",
		zap.Int64("session_id", sess.ID),
		zap.String("kiosk_id", sess.KioskID),
		zap.String("game_id", sess.GameID),
	)
	o.hub.BroadcastKiosk(sess.KioskID, realtime.SessionEnded{SessionID: sess.ID})
	o.hub.BroadcastGame(sess.GameID, realtime.SessionEnded{SessionID: sess.ID})

	if o.sink != nil {
		if err := o.sink.SessionEnded(ctx, sess); err != nil {
			o.logger.Error("hand off session results", zap.Int64("session_id", sess.ID), zap.Error(err))
		}
	}
	return sess, nil
}

// ResetKiosk ends the running session without results and clears the queue.
func (o *Orchestrator) ResetKiosk(ctx context.Context, kioskID string) (res ResetResult, err error) {
	defer observe("reset_kiosk", &err)
	return o.forceEnd(ctx, kioskID, false)
}

// DeleteKiosk resets the kiosk and removes it with its session history.
func (o *Orchestrator) DeleteKiosk(ctx context.Context, kioskID string) (res ResetResult, err error) {
	defer observe("delete_kiosk", &err)
	return o.forceEnd(ctx, kioskID, true)
}

func (o *Orchestrator) forceEnd(ctx context.Context, kioskID string, deleteKiosk bool) (ResetResult, error) {
	unlock := o.locks.lock(kioskID)
	defer unlock()

	var (
		fe  gamesession.ForceEndResult
		err error
	)
	if deleteKiosk {
		fe, err = o.machine.ForceEndAndDelete(ctx, kioskID)
	} else {
		fe, err = o.machine.ForceEnd(ctx, kioskID)
	}
	if err != nil {
		return ResetResult{}, err
	}

	o.logger.Info("kiosk reset",
		zap.String("kiosk_id", kioskID),
		zap.Int("cleared", fe.Cleared),
		zap.Int64s("ended_sessions", fe.Ended),
		zap.Bool("deleted", deleteKiosk),
	)
	o.hub.BroadcastKiosk(kioskID, realtime.QueueUpdate{})
	for _, id := range fe.Ended {
		o.hub.BroadcastKiosk(kioskID, realtime.SessionEnded{SessionID: id})
		o.hub.BroadcastGame(fe.GameID, realtime.SessionEnded{SessionID: id})
	}
	o.hub.BroadcastGame(fe.GameID, realtime.AdminReset{KioskID: kioskID})

	ended := fe.Ended
	if ended == nil {
		ended = []int64{}
	}
	return ResetResult{KioskID: kioskID, Cleared: fe.Cleared, EndedSessions: ended}, nil
}

// GameReady tells the game channel a game client is ready for the kiosk and
// how many players are waiting there.
func (o *Orchestrator) GameReady(ctx context.Context, gameID, kioskID string) (queueCount int, err error) {
	defer observe("game_ready", &err)

	kiosk, err := o.kiosk(ctx, kioskID)
	if err != nil {
		return 0, err
	}
	if kiosk.GameID != gameID {
		return 0, apperr.InvalidArgument("kiosk %s does not run game %s", kioskID, gameID)
	}

	unlock := o.locks.lock(kioskID)
	defer unlock()

	entries, err := o.machine.Queue(ctx, kioskID)
	if err != nil {
		return 0, err
	}
	o.hub.BroadcastGame(gameID, realtime.GameReady{KioskID: kioskID, QueueCount: len(entries)})
	return len(entries), nil
}

// GetQueue returns the kiosk queue in FIFO order.
func (o *Orchestrator) GetQueue(ctx context.Context, kioskID string) ([]models.QueueEntry, error) {
	return o.machine.Queue(ctx, kioskID)
}

// GetStatus reports whether the kiosk is idle or running a session.
func (o *Orchestrator) GetStatus(ctx context.Context, kioskID string) (gamesession.Status, error) {
	return o.machine.Status(ctx, kioskID)
}

// Session looks up a session by id.
func (o *Orchestrator) Session(ctx context.Context, sessionID int64) (*models.GameSession, error) {
	s, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("session %d not found", sessionID)
		}
		return nil, apperr.Internal(err)
	}
	return s, nil
}

func (o *Orchestrator) kiosk(ctx context.Context, kioskID string) (*models.Kiosk, error) {
	k, err := o.store.GetKiosk(ctx, kioskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("kiosk %s not found", kioskID)
		}
		return nil, apperr.Internal(err)
	}
	return k, nil
}

func gameSessionStarted(s *models.GameSession) realtime.GameSessionStarted {
	ev := realtime.GameSessionStarted{
		SessionID:   s.ID,
		KioskID:     s.KioskID,
		PlayerCount: len(s.Players),
		Players:     make([]realtime.RosterEntry, 0, len(s.Players)),
	}
	for _, id := range s.PlayerIDs() {
		ev.Players = append(ev.Players, realtime.RosterEntry{PlayerID: id})
	}
	if m := s.Mode(); m != "" {
		ev.Mode = &m
	}
	return ev
}

func observe(op string, err *error) {
	result := "ok"
	if *err != nil {
		result = string(apperr.KindOf(*err))
	}
	metrics.Operations.WithLabelValues(op, result).Inc()
}
