// Package store persists games, kiosks, kiosk queues and game sessions.
//
// All state changes for one kiosk go through WithinKiosk, which runs a unit of
// work that either commits entirely or not at all and is serialized against
// every other unit on the same kiosk. Units on different kiosks run in parallel.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arcade-kiosk/server/internal/models"
)

var (
	// ErrNotFound is returned when a game, kiosk or session does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when creating a game or kiosk whose id is taken.
	ErrConflict = errors.New("store: already exists")
)

// Store is the persistence boundary used by the session state machine and the orchestrator.
type Store interface {
	CreateGame(ctx context.Context, g *models.Game) error
	GetGame(ctx context.Context, gameID string) (*models.Game, error)

	// CreateKiosk returns ErrNotFound when the kiosk's game does not exist.
	CreateKiosk(ctx context.Context, k *models.Kiosk) error
	GetKiosk(ctx context.Context, kioskID string) (*models.Kiosk, error)
	ListKiosks(ctx context.Context) ([]models.Kiosk, error)
	UpdateKiosk(ctx context.Context, k *models.Kiosk) error

	GetSession(ctx context.Context, id int64) (*models.GameSession, error)
	// ListSessionsByGame returns the most recently started sessions first.
	ListSessionsByGame(ctx context.Context, gameID string, limit int) ([]models.GameSession, error)

	// QueueOf and RunningSessionID read without taking the kiosk lock, so they do
	// not wait behind admission. Both return ErrNotFound for an unknown kiosk.
	QueueOf(ctx context.Context, kioskID string) ([]models.QueueEntry, error)
	// RunningSessionID reports the kiosk's running session, if any.
	RunningSessionID(ctx context.Context, kioskID string) (id int64, ok bool, err error)

	// WithinKiosk runs fn as one atomic unit locked to the kiosk. If fn returns an
	// error nothing it did is kept. Returns ErrNotFound for an unknown kiosk.
	WithinKiosk(ctx context.Context, kioskID string, fn func(tx Tx) error) error

	Close()
}

// Tx is the view of one kiosk inside a WithinKiosk unit. The queue methods are
// the kiosk's queue store; the session methods only see this kiosk's sessions.
type Tx interface {
	Kiosk() *models.Kiosk

	// Enqueue adds the player if not already queued and reports whether it did.
	Enqueue(ctx context.Context, playerID int64, at time.Time) (bool, error)
	// RemoveEntry removes the player's entry and reports whether one existed.
	RemoveEntry(ctx context.Context, playerID int64) (bool, error)
	// DrainQueue removes and returns every entry in FIFO order.
	DrainQueue(ctx context.Context) ([]models.QueueEntry, error)
	// ClearQueue removes every entry and returns how many there were.
	ClearQueue(ctx context.Context) (int, error)
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)

	RunningSessions(ctx context.Context) ([]models.GameSession, error)
	// Session returns ErrNotFound unless the session exists and belongs to this kiosk.
	Session(ctx context.Context, id int64) (*models.GameSession, error)
	// InsertSession stores s with its players and sets s.ID.
	InsertSession(ctx context.Context, s *models.GameSession) error
	// SaveSession writes status, ended_at, meta and per-player results.
	SaveSession(ctx context.Context, s *models.GameSession) error

	// DeleteKiosk removes the kiosk with its queue and sessions when the unit commits.
	DeleteKiosk(ctx context.Context) error
}
