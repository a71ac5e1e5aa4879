package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcade-kiosk/server/internal/models"
)

// Memory is an in-process Store. Each kiosk has its own mutex held for the whole
// WithinKiosk unit; the unit works on copies that are swapped in on success.
type Memory struct {
	mu       sync.RWMutex
	games    map[string]*models.Game
	kiosks   map[string]*kioskState
	sessions map[int64]*kioskState // session id -> owning kiosk

	nextGameID    atomic.Int64
	nextKioskID   atomic.Int64
	nextSessionID atomic.Int64
}

type kioskState struct {
	mu       sync.Mutex
	kiosk    models.Kiosk
	deleted  bool
	queue    []models.QueueEntry
	sessions map[int64]*models.GameSession
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		games:    make(map[string]*models.Game),
		kiosks:   make(map[string]*kioskState),
		sessions: make(map[int64]*kioskState),
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateGame(_ context.Context, g *models.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.GameID]; ok {
		return ErrConflict
	}
	g.ID = m.nextGameID.Add(1)
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	cp := *g
	m.games[g.GameID] = &cp
	return nil
}

func (m *Memory) GetGame(_ context.Context, gameID string) (*models.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) CreateKiosk(_ context.Context, k *models.Kiosk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[k.GameID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.kiosks[k.KioskID]; ok {
		return ErrConflict
	}
	k.ID = m.nextKioskID.Add(1)
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	m.kiosks[k.KioskID] = &kioskState{
		kiosk:    cloneKiosk(*k),
		sessions: make(map[int64]*models.GameSession),
	}
	return nil
}

func (m *Memory) GetKiosk(_ context.Context, kioskID string) (*models.Kiosk, error) {
	st, err := m.state(kioskID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return nil, ErrNotFound
	}
	k := cloneKiosk(st.kiosk)
	return &k, nil
}

func (m *Memory) ListKiosks(_ context.Context) ([]models.Kiosk, error) {
	m.mu.RLock()
	states := make([]*kioskState, 0, len(m.kiosks))
	for _, st := range m.kiosks {
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]models.Kiosk, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.deleted {
			out = append(out, cloneKiosk(st.kiosk))
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateKiosk(_ context.Context, k *models.Kiosk) error {
	st, err := m.state(k.KioskID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return ErrNotFound
	}
	st.kiosk.Location = k.Location
	st.kiosk.Modes = append([]string(nil), k.Modes...)
	st.kiosk.Objectives = append([]string(nil), k.Objectives...)
	st.kiosk.Traits = cloneMap(k.Traits)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id int64) (*models.GameSession, error) {
	m.mu.RLock()
	st, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok || st.deleted {
		return nil, ErrNotFound
	}
	cp := cloneSession(s)
	return &cp, nil
}

func (m *Memory) ListSessionsByGame(_ context.Context, gameID string, limit int) ([]models.GameSession, error) {
	m.mu.RLock()
	states := make([]*kioskState, 0, len(m.kiosks))
	for _, st := range m.kiosks {
		states = append(states, st)
	}
	m.mu.RUnlock()

	var out []models.GameSession
	for _, st := range states {
		st.mu.Lock()
		for _, s := range st.sessions {
			if s.GameID == gameID {
				out = append(out, cloneSession(s))
			}
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueueOf reads the committed queue. A unit in progress holds st.mu, so this
// waits at most for that unit's in-memory work.
func (m *Memory) QueueOf(_ context.Context, kioskID string) ([]models.QueueEntry, error) {
	st, err := m.state(kioskID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return nil, ErrNotFound
	}
	return append([]models.QueueEntry(nil), st.queue...), nil
}

func (m *Memory) RunningSessionID(_ context.Context, kioskID string) (int64, bool, error) {
	st, err := m.state(kioskID)
	if err != nil {
		return 0, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return 0, false, ErrNotFound
	}
	for id, s := range st.sessions {
		if s.Running() {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (m *Memory) WithinKiosk(_ context.Context, kioskID string, fn func(tx Tx) error) error {
	st, err := m.state(kioskID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return ErrNotFound
	}

	tx := &memoryTx{
		m:       m,
		st:      st,
		kiosk:   cloneKiosk(st.kiosk),
		queue:   append([]models.QueueEntry(nil), st.queue...),
		touched: make(map[int64]*models.GameSession),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) state(kioskID string) (*kioskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.kiosks[kioskID]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// memoryTx buffers changes until commit; st.mu is held by WithinKiosk throughout.
type memoryTx struct {
	m       *Memory
	st      *kioskState
	kiosk   models.Kiosk
	queue   []models.QueueEntry
	touched map[int64]*models.GameSession
	inserts []int64
	deleted bool
}

func (tx *memoryTx) Kiosk() *models.Kiosk {
	k := cloneKiosk(tx.kiosk)
	return &k
}

func (tx *memoryTx) Enqueue(_ context.Context, playerID int64, at time.Time) (bool, error) {
	for _, e := range tx.queue {
		if e.PlayerID == playerID {
			return false, nil
		}
	}
	tx.queue = append(tx.queue, models.QueueEntry{KioskID: tx.kiosk.KioskID, PlayerID: playerID, EnqueuedAt: at})
	return true, nil
}

func (tx *memoryTx) RemoveEntry(_ context.Context, playerID int64) (bool, error) {
	for i, e := range tx.queue {
		if e.PlayerID == playerID {
			tx.queue = append(tx.queue[:i:i], tx.queue[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) DrainQueue(_ context.Context) ([]models.QueueEntry, error) {
	drained := tx.queue
	tx.queue = nil
	return drained, nil
}

func (tx *memoryTx) ClearQueue(_ context.Context) (int, error) {
	n := len(tx.queue)
	tx.queue = nil
	return n, nil
}

func (tx *memoryTx) ListQueue(_ context.Context) ([]models.QueueEntry, error) {
	return append([]models.QueueEntry(nil), tx.queue...), nil
}

func (tx *memoryTx) RunningSessions(_ context.Context) ([]models.GameSession, error) {
	var out []models.GameSession
	for id := range tx.st.sessions {
		s := tx.view(id)
		if s.Running() {
			out = append(out, cloneSession(s))
		}
	}
	for _, id := range tx.inserts {
		if s := tx.touched[id]; s.Running() {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) Session(_ context.Context, id int64) (*models.GameSession, error) {
	s := tx.view(id)
	if s == nil {
		return nil, ErrNotFound
	}
	cp := cloneSession(s)
	return &cp, nil
}

func (tx *memoryTx) InsertSession(_ context.Context, s *models.GameSession) error {
	s.ID = tx.m.nextSessionID.Add(1)
	s.KioskID = tx.kiosk.KioskID
	cp := cloneSession(s)
	tx.touched[s.ID] = &cp
	tx.inserts = append(tx.inserts, s.ID)
	return nil
}

func (tx *memoryTx) SaveSession(_ context.Context, s *models.GameSession) error {
	if tx.view(s.ID) == nil {
		return ErrNotFound
	}
	cp := cloneSession(s)
	tx.touched[s.ID] = &cp
	return nil
}

func (tx *memoryTx) DeleteKiosk(_ context.Context) error {
	tx.deleted = true
	return nil
}

func (tx *memoryTx) view(id int64) *models.GameSession {
	if s, ok := tx.touched[id]; ok {
		return s
	}
	return tx.st.sessions[id]
}

func (tx *memoryTx) commit() {
	st := tx.st
	if tx.deleted {
		st.deleted = true
		tx.m.mu.Lock()
		delete(tx.m.kiosks, st.kiosk.KioskID)
		for id := range st.sessions {
			delete(tx.m.sessions, id)
		}
		tx.m.mu.Unlock()
		st.queue = nil
		st.sessions = nil
		return
	}

	st.queue = tx.queue
	for id, s := range tx.touched {
		st.sessions[id] = s
	}
	if len(tx.inserts) > 0 {
		tx.m.mu.Lock()
		for _, id := range tx.inserts {
			tx.m.sessions[id] = st
		}
		tx.m.mu.Unlock()
	}
}

func cloneKiosk(k models.Kiosk) models.Kiosk {
	k.Modes = append([]string(nil), k.Modes...)
	k.Objectives = append([]string(nil), k.Objectives...)
	k.Traits = cloneMap(k.Traits)
	return k
}

func cloneSession(s *models.GameSession) models.GameSession {
	cp := *s
	cp.Meta = cloneMap(s.Meta)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	cp.Players = make([]models.SessionPlayer, len(s.Players))
	for i, p := range s.Players {
		p.Metrics = cloneMap(p.Metrics)
		cp.Players[i] = p
	}
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
