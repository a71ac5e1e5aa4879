package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcade-kiosk/server/internal/models"
)

const uniqueViolation = "23505"

// Postgres is the PostgreSQL Store. WithinKiosk opens a transaction and locks the
// kiosk row with SELECT ... FOR UPDATE, so units on one kiosk serialize across
// server processes.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store over an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) CreateGame(ctx context.Context, g *models.Game) error {
	const q = `INSERT INTO games (game_id, name) VALUES ($1, $2) RETURNING id, created_at`
	err := s.pool.QueryRow(ctx, q, g.GameID, g.Name).Scan(&g.ID, &g.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Postgres) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	const q = `SELECT id, game_id, name, created_at FROM games WHERE game_id = $1`
	var g models.Game
	err := s.pool.QueryRow(ctx, q, gameID).Scan(&g.ID, &g.GameID, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Postgres) CreateKiosk(ctx context.Context, k *models.Kiosk) error {
	modes, objectives, traits, err := marshalKioskJSON(k)
	if err != nil {
		return err
	}
	const q = `INSERT INTO kiosks (kiosk_id, location, game_id, modes, objectives, traits)
		SELECT $1::text, $2::text, g.id, $4::jsonb, $5::jsonb, $6::jsonb FROM games g WHERE g.game_id = $3
		RETURNING id, created_at`
	err = s.pool.QueryRow(ctx, q, k.KioskID, k.Location, k.GameID, modes, objectives, traits).Scan(&k.ID, &k.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return notFound(err)
}

const selectKiosk = `SELECT k.id, k.kiosk_id, k.location, g.game_id, k.modes, k.objectives, k.traits, k.created_at
	FROM kiosks k JOIN games g ON g.id = k.game_id`

func (s *Postgres) GetKiosk(ctx context.Context, kioskID string) (*models.Kiosk, error) {
	k, err := scanKiosk(s.pool.QueryRow(ctx, selectKiosk+` WHERE k.kiosk_id = $1`, kioskID))
	if err != nil {
		return nil, notFound(err)
	}
	return k, nil
}

func (s *Postgres) ListKiosks(ctx context.Context) ([]models.Kiosk, error) {
	rows, err := s.pool.Query(ctx, selectKiosk+` ORDER BY k.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.Kiosk, error) {
		k, err := scanKiosk(r)
		if err != nil {
			return models.Kiosk{}, err
		}
		return *k, nil
	})
}

func (s *Postgres) UpdateKiosk(ctx context.Context, k *models.Kiosk) error {
	modes, objectives, traits, err := marshalKioskJSON(k)
	if err != nil {
		return err
	}
	const q = `UPDATE kiosks SET location = $2, modes = $3, objectives = $4, traits = $5 WHERE kiosk_id = $1`
	tag, err := s.pool.Exec(ctx, q, k.KioskID, k.Location, modes, objectives, traits)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectSession = `SELECT s.id, k.kiosk_id, g.game_id, s.status, s.started_at, s.ended_at, s.meta
	FROM game_sessions s
	JOIN kiosks k ON k.id = s.kiosk_id
	JOIN games g ON g.id = s.game_id`

func (s *Postgres) GetSession(ctx context.Context, id int64) (*models.GameSession, error) {
	return getSession(ctx, s.pool, selectSession+` WHERE s.id = $1`, id)
}

func (s *Postgres) ListSessionsByGame(ctx context.Context, gameID string, limit int) ([]models.GameSession, error) {
	rows, err := s.pool.Query(ctx, selectSession+` WHERE g.game_id = $1 ORDER BY s.started_at DESC, s.id DESC LIMIT $2`, gameID, limit)
	if err != nil {
		return nil, err
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if err := loadPlayers(ctx, s.pool, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// QueueOf is a plain read; the LEFT JOIN yields one all-null row for a kiosk
// with an empty queue and no rows for an unknown kiosk.
func (s *Postgres) QueueOf(ctx context.Context, kioskID string) ([]models.QueueEntry, error) {
	const q = `SELECT q.player_id, q.created_at
		FROM kiosks k LEFT JOIN queue_entries q ON q.kiosk_id = k.id
		WHERE k.kiosk_id = $1
		ORDER BY q.created_at, q.id`
	rows, err := s.pool.Query(ctx, q, kioskID)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	found := false
	entries := []models.QueueEntry{}
	for rows.Next() {
		found = true
		var (
			playerID *int64
			at       *time.Time
		)
		if err := rows.Scan(&playerID, &at); err != nil {
			return nil, err
		}
		if playerID == nil {
			continue
		}
		entries = append(entries, models.QueueEntry{KioskID: kioskID, PlayerID: *playerID, EnqueuedAt: *at})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return entries, nil
}

func (s *Postgres) RunningSessionID(ctx context.Context, kioskID string) (int64, bool, error) {
	const q = `SELECT s.id
		FROM kiosks k LEFT JOIN game_sessions s ON s.kiosk_id = k.id AND s.status = 'running'
		WHERE k.kiosk_id = $1
		LIMIT 1`
	var id *int64
	if err := s.pool.QueryRow(ctx, q, kioskID).Scan(&id); err != nil {
		return 0, false, notFound(err)
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

func (s *Postgres) WithinKiosk(ctx context.Context, kioskID string, fn func(tx Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, rollback(ctx, tx))
		}
	}()

	k, err := scanKiosk(tx.QueryRow(ctx, selectKiosk+` WHERE k.kiosk_id = $1 FOR UPDATE OF k`, kioskID))
	if err != nil {
		return notFound(err)
	}

	if err = fn(&postgresTx{tx: tx, kiosk: k}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func rollback(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !stderrors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

type postgresTx struct {
	tx    pgx.Tx
	kiosk *models.Kiosk
}

func (t *postgresTx) Kiosk() *models.Kiosk {
	k := cloneKiosk(*t.kiosk)
	return &k
}

func (t *postgresTx) Enqueue(ctx context.Context, playerID int64, at time.Time) (bool, error) {
	const q = `INSERT INTO queue_entries (kiosk_id, player_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (kiosk_id, player_id) DO NOTHING`
	tag, err := t.tx.Exec(ctx, q, t.kiosk.ID, playerID, at)
	if err != nil {
		return false, fmt.Errorf("insert queue entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTx) RemoveEntry(ctx context.Context, playerID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM queue_entries WHERE kiosk_id = $1 AND player_id = $2`, t.kiosk.ID, playerID)
	if err != nil {
		return false, fmt.Errorf("delete queue entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *postgresTx) DrainQueue(ctx context.Context) ([]models.QueueEntry, error) {
	const q = `WITH drained AS (
			DELETE FROM queue_entries WHERE kiosk_id = $1 RETURNING id, player_id, created_at
		)
		SELECT player_id, created_at FROM drained ORDER BY created_at, id`
	return t.queryQueue(ctx, q)
}

func (t *postgresTx) ClearQueue(ctx context.Context) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM queue_entries WHERE kiosk_id = $1`, t.kiosk.ID)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *postgresTx) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	const q = `SELECT player_id, created_at FROM queue_entries WHERE kiosk_id = $1 ORDER BY created_at, id`
	return t.queryQueue(ctx, q)
}

func (t *postgresTx) queryQueue(ctx context.Context, q string) ([]models.QueueEntry, error) {
	rows, err := t.tx.Query(ctx, q, t.kiosk.ID)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.QueueEntry, error) {
		e := models.QueueEntry{KioskID: t.kiosk.KioskID}
		err := r.Scan(&e.PlayerID, &e.EnqueuedAt)
		return e, err
	})
}

func (t *postgresTx) RunningSessions(ctx context.Context) ([]models.GameSession, error) {
	rows, err := t.tx.Query(ctx, selectSession+` WHERE s.kiosk_id = $1 AND s.status = 'running' ORDER BY s.id FOR UPDATE OF s`, t.kiosk.ID)
	if err != nil {
		return nil, err
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if err := loadPlayers(ctx, t.tx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (t *postgresTx) Session(ctx context.Context, id int64) (*models.GameSession, error) {
	return getSession(ctx, t.tx, selectSession+` WHERE s.id = $1 AND s.kiosk_id = $2 FOR UPDATE OF s`, id, t.kiosk.ID)
}

func (t *postgresTx) InsertSession(ctx context.Context, s *models.GameSession) error {
	meta, err := json.Marshal(nonNilMap(s.Meta))
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	const insSession = `INSERT INTO game_sessions (kiosk_id, game_id, status, started_at, meta)
		SELECT k.id, k.game_id, $2::text, $3::timestamptz, $4::jsonb FROM kiosks k WHERE k.id = $1
		RETURNING id`
	if err := t.tx.QueryRow(ctx, insSession, t.kiosk.ID, string(s.Status), s.StartedAt, meta).Scan(&s.ID); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.KioskID = t.kiosk.KioskID
	s.GameID = t.kiosk.GameID

	const insPlayer = `INSERT INTO session_players (session_id, player_id, position, score, play_time_sec, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)`
	batch := &pgx.Batch{}
	for i, p := range s.Players {
		metrics, err := json.Marshal(nonNilMap(p.Metrics))
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		batch.Queue(insPlayer, s.ID, p.PlayerID, i, p.Score, p.PlayTimeSec, metrics)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert session players: %w", err)
	}
	return nil
}

func (t *postgresTx) SaveSession(ctx context.Context, s *models.GameSession) error {
	meta, err := json.Marshal(nonNilMap(s.Meta))
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	const updSession = `UPDATE game_sessions SET status = $3, ended_at = $4, meta = $5 WHERE id = $1 AND kiosk_id = $2`
	tag, err := t.tx.Exec(ctx, updSession, s.ID, t.kiosk.ID, string(s.Status), s.EndedAt, meta)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	const updPlayer = `UPDATE session_players SET score = $3, play_time_sec = $4, metrics = $5
		WHERE session_id = $1 AND player_id = $2`
	batch := &pgx.Batch{}
	for _, p := range s.Players {
		metrics, err := json.Marshal(nonNilMap(p.Metrics))
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		batch.Queue(updPlayer, s.ID, p.PlayerID, p.Score, p.PlayTimeSec, metrics)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update session players: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteKiosk(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM kiosks WHERE id = $1`, t.kiosk.ID); err != nil {
		return fmt.Errorf("delete kiosk: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSession(ctx context.Context, q querier, sql string, args ...any) (*models.GameSession, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	if err := loadPlayers(ctx, q, sessions); err != nil {
		return nil, err
	}
	return &sessions[0], nil
}

func collectSessions(rows pgx.Rows) ([]models.GameSession, error) {
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.GameSession, error) {
		var (
			s      models.GameSession
			status string
			meta   []byte
		)
		if err := r.Scan(&s.ID, &s.KioskID, &s.GameID, &status, &s.StartedAt, &s.EndedAt, &meta); err != nil {
			return s, err
		}
		s.Status = models.SessionStatus(status)
		if err := unmarshalJSON(meta, &s.Meta); err != nil {
			return s, fmt.Errorf("session %d meta: %w", s.ID, err)
		}
		return s, nil
	})
}

func loadPlayers(ctx context.Context, q querier, sessions []models.GameSession) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]int64, len(sessions))
	index := make(map[int64]int, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		index[s.ID] = i
		sessions[i].Players = []models.SessionPlayer{}
	}

	const sql = `SELECT session_id, player_id, score, play_time_sec, metrics
		FROM session_players WHERE session_id = ANY($1) ORDER BY session_id, position`
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return fmt.Errorf("query session players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sessionID int64
			p         models.SessionPlayer
			metrics   []byte
		)
		if err := rows.Scan(&sessionID, &p.PlayerID, &p.Score, &p.PlayTimeSec, &metrics); err != nil {
			return err
		}
		if err := unmarshalJSON(metrics, &p.Metrics); err != nil {
			return fmt.Errorf("player %d metrics: %w", p.PlayerID, err)
		}
		i := index[sessionID]
		sessions[i].Players = append(sessions[i].Players, p)
	}
	return rows.Err()
}

func scanKiosk(row pgx.Row) (*models.Kiosk, error) {
	var (
		k                         models.Kiosk
		modes, objectives, traits []byte
	)
	if err := row.Scan(&k.ID, &k.KioskID, &k.Location, &k.GameID, &modes, &objectives, &traits, &k.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(modes, &k.Modes); err != nil {
		return nil, fmt.Errorf("kiosk modes: %w", err)
	}
	if err := unmarshalJSON(objectives, &k.Objectives); err != nil {
		return nil, fmt.Errorf("kiosk objectives: %w", err)
	}
	if err := unmarshalJSON(traits, &k.Traits); err != nil {
		return nil, fmt.Errorf("kiosk traits: %w", err)
	}
	return &k, nil
}

func marshalKioskJSON(k *models.Kiosk) (modes, objectives, traits []byte, err error) {
	if modes, err = json.Marshal(nonNilSlice(k.Modes)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal modes: %w", err)
	}
	if objectives, err = json.Marshal(nonNilSlice(k.Objectives)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal objectives: %w", err)
	}
	if traits, err = json.Marshal(nonNilMap(k.Traits)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal traits: %w", err)
	}
	return modes, objectives, traits, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func notFound(err error) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
