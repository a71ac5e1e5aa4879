// Package gamesession is the per-kiosk queue and session state machine.
//
// A kiosk is idle or has exactly one running session. Admission drains the
// whole queue into a new running session; completion attaches results and ends
// it; a forced end ends it without results and clears the queue. Sessions are
// never reopened.
package gamesession

import (
	"context"
	"errors"
	"time"

	"github.com/arcade-kiosk/server/internal/apperr"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/store"
)

// State is what get-status reports for a kiosk.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Status is a kiosk's current state.
type Status struct {
	KioskID   string `json:"kiosk_id"`
	State     State  `json:"status"`
	SessionID *int64 `json:"session_id"`
}

// ForceEndResult reports what a forced end cleared.
type ForceEndResult struct {
	KioskID string
	GameID  string
	Cleared int
	Ended   []int64
}

// Machine runs every transition inside one store unit per kiosk.
type Machine struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a state machine over s.
func NewMachine(s store.Store, opts ...Option) *Machine {
	m := &Machine{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue adds the player to the kiosk queue. Returns false when already queued.
func (m *Machine) Enqueue(ctx context.Context, kioskID string, playerID int64) (bool, error) {
	if playerID <= 0 {
		return false, apperr.InvalidArgument("player_id must be positive")
	}
	var inserted bool
	err := m.within(ctx, kioskID, func(tx store.Tx) (err error) {
		inserted, err = tx.Enqueue(ctx, playerID, m.now())
		return err
	})
	return inserted, err
}

// Leave removes the player from the kiosk queue. Returns false when not queued.
func (m *Machine) Leave(ctx context.Context, kioskID string, playerID int64) (bool, error) {
	var removed bool
	err := m.within(ctx, kioskID, func(tx store.Tx) (err error) {
		removed, err = tx.RemoveEntry(ctx, playerID)
		return err
	})
	return removed, err
}

// Queue returns the kiosk queue in FIFO order. It does not lock the kiosk.
func (m *Machine) Queue(ctx context.Context, kioskID string) ([]models.QueueEntry, error) {
	entries, err := m.store.QueueOf(ctx, kioskID)
	if err != nil {
		return nil, m.kioskError(kioskID, err)
	}
	return entries, nil
}

// Admit moves every queued player into a new running session. If the kiosk
// already has a running session it is returned with created=false and nothing
// changes. An empty queue with no running session fails with KindEmptyQueue.
func (m *Machine) Admit(ctx context.Context, kioskID, mode string) (sess *models.GameSession, created bool, err error) {
	err = m.within(ctx, kioskID, func(tx store.Tx) error {
		running, err := tx.RunningSessions(ctx)
		if err != nil {
			return err
		}
		if len(running) > 0 {
			sess = &running[0]
			return nil
		}

		entries, err := tx.DrainQueue(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return apperr.New(apperr.KindEmptyQueue, apperr.WithMessagef("queue for kiosk %s is empty", kioskID))
		}

		meta := map[string]any{}
		if mode != "" {
			meta["mode"] = mode
		}
		s := &models.GameSession{
			GameID:    tx.Kiosk().GameID,
			Status:    models.StatusRunning,
			StartedAt: m.now(),
			Meta:      meta,
			Players:   make([]models.SessionPlayer, 0, len(entries)),
		}
		for _, e := range entries {
			s.Players = append(s.Players, models.SessionPlayer{PlayerID: e.PlayerID, Metrics: map[string]any{}})
		}
		if err := tx.InsertSession(ctx, s); err != nil {
			return err
		}
		sess, created = s, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return sess, created, nil
}

// Complete applies results and ends a running session. Results for players not
// in the session are ignored; session players without a result keep zeros.
func (m *Machine) Complete(ctx context.Context, sessionID int64, results []models.PlayerResult, gameMetrics map[string]any) (*models.GameSession, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalidSession(sessionID)
		}
		return nil, apperr.Internal(err)
	}
	if !s.Running() {
		return nil, invalidSession(sessionID)
	}

	var ended *models.GameSession
	err = m.store.WithinKiosk(ctx, s.KioskID, func(tx store.Tx) error {
		cur, err := tx.Session(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalidSession(sessionID)
			}
			return err
		}
		if !cur.Running() {
			return invalidSession(sessionID)
		}

		applyResults(cur, results)
		now := m.now()
		cur.Status = models.StatusEnded
		cur.EndedAt = &now
		cur.Meta = gameMetrics
		if cur.Meta == nil {
			cur.Meta = map[string]any{}
		}
		if err := tx.SaveSession(ctx, cur); err != nil {
			return err
		}
		ended = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalidSession(sessionID)
		}
		return nil, wrap(err)
	}
	return ended, nil
}

// ForceEnd ends the kiosk's running session, if any, without results and
// clears its queue. Ended sessions get status ended, not cancelled.
func (m *Machine) ForceEnd(ctx context.Context, kioskID string) (ForceEndResult, error) {
	return m.forceEnd(ctx, kioskID, false)
}

// ForceEndAndDelete is ForceEnd followed by removing the kiosk, in one unit.
func (m *Machine) ForceEndAndDelete(ctx context.Context, kioskID string) (ForceEndResult, error) {
	return m.forceEnd(ctx, kioskID, true)
}

func (m *Machine) forceEnd(ctx context.Context, kioskID string, deleteKiosk bool) (ForceEndResult, error) {
	res := ForceEndResult{KioskID: kioskID}
	err := m.within(ctx, kioskID, func(tx store.Tx) error {
		res.GameID = tx.Kiosk().GameID
		res.Ended = nil

		running, err := tx.RunningSessions(ctx)
		if err != nil {
			return err
		}
		now := m.now()
		for i := range running {
			s := &running[i]
			s.Status = models.StatusEnded
			s.EndedAt = &now
			if err := tx.SaveSession(ctx, s); err != nil {
				return err
			}
			res.Ended = append(res.Ended, s.ID)
		}

		if res.Cleared, err = tx.ClearQueue(ctx); err != nil {
			return err
		}
		if deleteKiosk {
			return tx.DeleteKiosk(ctx)
		}
		return nil
	})
	if err != nil {
		return ForceEndResult{}, err
	}
	return res, nil
}

// Status reports whether the kiosk is idle or running a session. It does not
// lock the kiosk.
func (m *Machine) Status(ctx context.Context, kioskID string) (Status, error) {
	id, running, err := m.store.RunningSessionID(ctx, kioskID)
	if err != nil {
		return Status{}, m.kioskError(kioskID, err)
	}
	st := Status{KioskID: kioskID, State: StateIdle}
	if running {
		st.State = StateRunning
		st.SessionID = &id
	}
	return st, nil
}

func (m *Machine) kioskError(kioskID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("kiosk %s not found", kioskID)
	}
	return wrap(err)
}

func (m *Machine) within(ctx context.Context, kioskID string, fn func(tx store.Tx) error) error {
	if err := m.store.WithinKiosk(ctx, kioskID, fn); err != nil {
		return m.kioskError(kioskID, err)
	}
	return nil
}

func applyResults(s *models.GameSession, results []models.PlayerResult) {
	index := make(map[int64]int, len(s.Players))
	for i, p := range s.Players {
		index[p.PlayerID] = i
	}
	for _, r := range results {
		i, ok := index[r.PlayerID]
		if !ok {
			continue
		}
		p := &s.Players[i]
		p.Score = r.Score
		p.PlayTimeSec = r.PlayTimeSec
		p.Metrics = r.Metrics
		if p.Metrics == nil {
			p.Metrics = map[string]any{}
		}
	}
}

func invalidSession(id int64) *apperr.Error {
	return apperr.New(apperr.KindInvalidSession, apperr.WithMessagef("session %d is not running", id))
}

// wrap keeps typed errors and marks anything else as internal.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	return apperr.Internal(err)
}
