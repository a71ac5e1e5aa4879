package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/store"
	"github.com/arcade-kiosk/server/pkg/database"
)

// fixture names are suffixed so runs against a shared database do not collide.
type fixture struct {
	s       store.Store
	gameID  string
	kioskID string
}

func TestMemory(t *testing.T) {
	runStoreTests(t, func(t *testing.T) store.Store { return store.NewMemory() })
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreTests(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		pool, err := database.Open(ctx, database.PoolOptions{DSN: dsn, MaxConns: 10}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
		s := store.NewPostgres(pool)
		t.Cleanup(s.Close)
		return s
	})

	t.Run("reads do not wait for a unit", func(t *testing.T) {
		ctx := context.Background()
		pool, err := database.Open(ctx, database.PoolOptions{DSN: dsn, MaxConns: 10}, zap.NewNop())
		require.NoError(t, err)
		s := store.NewPostgres(pool)
		t.Cleanup(s.Close)
		f := newFixture(t, s)

		f.within(t, func(tx store.Tx) error {
			_, err := tx.Enqueue(ctx, 7, time.Now())
			require.NoError(t, err)

			readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			entries, err := s.QueueOf(readCtx, f.kioskID)
			require.NoError(t, err, "read must not block on the kiosk row lock")
			assert.Empty(t, entries, "uncommitted entries are not visible")
			_, running, err := s.RunningSessionID(readCtx, f.kioskID)
			require.NoError(t, err)
			assert.False(t, running)
			return nil
		})
	})
}

func runStoreTests(t *testing.T, open func(t *testing.T) store.Store) {
	tests := map[string]func(t *testing.T, f *fixture){
		"games and kiosks":    testCatalog,
		"unknown kiosk":       testUnknownKiosk,
		"queue fifo":          testQueueFIFO,
		"failed unit discard": testRollback,
		"session lifecycle":   testSessionLifecycle,
		"delete kiosk":        testDeleteKiosk,
		"concurrent enqueue":  testConcurrentEnqueue,
		"unlocked reads":      testUnlockedReads,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, open(t)))
		})
	}
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	f := &fixture{s: s, gameID: "G-" + suffix, kioskID: "K-" + suffix}
	require.NoError(t, s.CreateGame(ctx, &models.Game{GameID: f.gameID, Name: "Laser Maze"}))
	require.NoError(t, s.CreateKiosk(ctx, &models.Kiosk{
		KioskID: f.kioskID,
		GameID:  f.gameID,
		Modes:   []string{"solo"},
		Traits:  map[string]any{"floor": "1"},
	}))
	return f
}

func (f *fixture) within(t *testing.T, fn func(tx store.Tx) error) {
	t.Helper()
	require.NoError(t, f.s.WithinKiosk(context.Background(), f.kioskID, fn))
}

func (f *fixture) queue(t *testing.T) []int64 {
	t.Helper()
	var ids []int64
	f.within(t, func(tx store.Tx) error {
		entries, err := tx.ListQueue(context.Background())
		for _, e := range entries {
			ids = append(ids, e.PlayerID)
		}
		return err
	})
	return ids
}

func testCatalog(t *testing.T, f *fixture) {
	ctx := context.Background()

	err := f.s.CreateGame(ctx, &models.Game{GameID: f.gameID, Name: "again"})
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = f.s.GetGame(ctx, f.gameID+"-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = f.s.CreateKiosk(ctx, &models.Kiosk{KioskID: f.kioskID + "-x", GameID: f.gameID + "-missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = f.s.CreateKiosk(ctx, &models.Kiosk{KioskID: f.kioskID, GameID: f.gameID})
	assert.ErrorIs(t, err, store.ErrConflict)

	k, err := f.s.GetKiosk(ctx, f.kioskID)
	require.NoError(t, err)
	assert.Equal(t, f.gameID, k.GameID)
	assert.Equal(t, []string{"solo"}, k.Modes)

	k.Location = "Hall B"
	k.Modes = []string{"solo", "duo"}
	require.NoError(t, f.s.UpdateKiosk(ctx, k))
	k, err = f.s.GetKiosk(ctx, f.kioskID)
	require.NoError(t, err)
	assert.Equal(t, "Hall B", k.Location)
	assert.Equal(t, []string{"solo", "duo"}, k.Modes)
	assert.Equal(t, "1", k.Traits["floor"])

	list, err := f.s.ListKiosks(ctx)
	require.NoError(t, err)
	found := false
	for _, item := range list {
		found = found || item.KioskID == f.kioskID
	}
	assert.True(t, found)
}

func testUnknownKiosk(t *testing.T, f *fixture) {
	ctx := context.Background()
	called := false
	err := f.s.WithinKiosk(ctx, f.kioskID+"-missing", func(store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, called)

	_, err = f.s.GetKiosk(ctx, f.kioskID+"-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = f.s.UpdateKiosk(ctx, &models.Kiosk{KioskID: f.kioskID + "-missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testQueueFIFO(t *testing.T, f *fixture) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	f.within(t, func(tx store.Tx) error {
		for i, p := range []int64{7, 9, 3} {
			added, err := tx.Enqueue(ctx, p, base.Add(time.Duration(i)*time.Millisecond))
			require.NoError(t, err)
			assert.True(t, added)
		}
		added, err := tx.Enqueue(ctx, 9, base.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, added, "a player is queued at most once")
		return nil
	})
	assert.Equal(t, []int64{7, 9, 3}, f.queue(t))

	f.within(t, func(tx store.Tx) error {
		removed, err := tx.RemoveEntry(ctx, 9)
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = tx.RemoveEntry(ctx, 9)
		require.NoError(t, err)
		assert.False(t, removed)
		return nil
	})
	assert.Equal(t, []int64{7, 3}, f.queue(t))

	f.within(t, func(tx store.Tx) error {
		drained, err := tx.DrainQueue(ctx)
		require.NoError(t, err)
		require.Len(t, drained, 2)
		assert.Equal(t, int64(7), drained[0].PlayerID)
		assert.Equal(t, int64(3), drained[1].PlayerID)
		assert.Equal(t, f.kioskID, drained[0].KioskID)
		return nil
	})
	assert.Empty(t, f.queue(t))

	f.within(t, func(tx store.Tx) error {
		_, err := tx.Enqueue(ctx, 1, base)
		require.NoError(t, err)
		_, err = tx.Enqueue(ctx, 2, base.Add(time.Millisecond))
		require.NoError(t, err)
		n, err := tx.ClearQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return nil
	})
	assert.Empty(t, f.queue(t))
}

func testRollback(t *testing.T, f *fixture) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := f.s.WithinKiosk(ctx, f.kioskID, func(tx store.Tx) error {
		if _, err := tx.Enqueue(ctx, 7, time.Now()); err != nil {
			return err
		}
		sess := &models.GameSession{GameID: f.gameID, Status: models.StatusRunning, StartedAt: time.Now()}
		if err := tx.InsertSession(ctx, sess); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.queue(t))

	f.within(t, func(tx store.Tx) error {
		running, err := tx.RunningSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, running)
		return nil
	})
}

func testSessionLifecycle(t *testing.T, f *fixture) {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)

	sess := &models.GameSession{
		GameID:    f.gameID,
		Status:    models.StatusRunning,
		StartedAt: started,
		Meta:      map[string]any{"mode": "solo"},
		Players:   []models.SessionPlayer{{PlayerID: 7}, {PlayerID: 9}},
	}
	f.within(t, func(tx store.Tx) error {
		require.NoError(t, tx.InsertSession(ctx, sess))
		running, err := tx.RunningSessions(ctx)
		require.NoError(t, err)
		require.Len(t, running, 1, "an inserted session is visible inside its unit")
		return nil
	})
	require.NotZero(t, sess.ID)
	assert.Equal(t, f.kioskID, sess.KioskID)

	got, err := f.s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, []int64{7, 9}, got.PlayerIDs())
	assert.Equal(t, "solo", got.Mode())
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.EndedAt)

	ended := started.Add(90 * time.Second)
	f.within(t, func(tx store.Tx) error {
		s, err := tx.Session(ctx, sess.ID)
		require.NoError(t, err)
		s.Status = models.StatusEnded
		s.EndedAt = &ended
		s.Meta = map[string]any{"rounds": float64(3)}
		s.Players[0].Score = 40
		s.Players[1].Score = 55
		s.Players[1].PlayTimeSec = 80
		return tx.SaveSession(ctx, s)
	})

	got, err = f.s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))
	assert.Equal(t, map[string]any{"rounds": float64(3)}, got.Meta)
	assert.Equal(t, 40, got.Players[0].Score)
	assert.Equal(t, 55, got.Players[1].Score)
	assert.Equal(t, 80, got.Players[1].PlayTimeSec)

	f.within(t, func(tx store.Tx) error {
		running, err := tx.RunningSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, running)
		return nil
	})

	history, err := f.s.ListSessionsByGame(ctx, f.gameID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sess.ID, history[0].ID)

	_, err = f.s.GetSession(ctx, sess.ID+1_000_000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteKiosk(t *testing.T, f *fixture) {
	ctx := context.Background()
	sess := &models.GameSession{GameID: f.gameID, Status: models.StatusRunning, StartedAt: time.Now().UTC()}
	f.within(t, func(tx store.Tx) error {
		if _, err := tx.Enqueue(ctx, 7, time.Now()); err != nil {
			return err
		}
		return tx.InsertSession(ctx, sess)
	})

	f.within(t, func(tx store.Tx) error { return tx.DeleteKiosk(ctx) })

	_, err := f.s.GetKiosk(ctx, f.kioskID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = f.s.WithinKiosk(ctx, f.kioskID, func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.s.GetGame(ctx, f.gameID)
	assert.NoError(t, err, "the game outlives its kiosks")
}

func testConcurrentEnqueue(t *testing.T, f *fixture) {
	ctx := context.Background()
	const players = 20

	var wg sync.WaitGroup
	for i := 1; i <= players; i++ {
		wg.Add(1)
		go func(p int64) {
			defer wg.Done()
			err := f.s.WithinKiosk(ctx, f.kioskID, func(tx store.Tx) error {
				_, err := tx.Enqueue(ctx, p, time.Now())
				return err
			})
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	assert.Len(t, f.queue(t), players)
}

func testUnlockedReads(t *testing.T, f *fixture) {
	ctx := context.Background()

	entries, err := f.s.QueueOf(ctx, f.kioskID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, running, err := f.s.RunningSessionID(ctx, f.kioskID)
	require.NoError(t, err)
	assert.False(t, running)

	_, err = f.s.QueueOf(ctx, f.kioskID+"-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, _, err = f.s.RunningSessionID(ctx, f.kioskID+"-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	base := time.Now().UTC().Truncate(time.Microsecond)
	sess := &models.GameSession{GameID: f.gameID, Status: models.StatusRunning, StartedAt: base}
	f.within(t, func(tx store.Tx) error {
		for i, p := range []int64{9, 4} {
			if _, err := tx.Enqueue(ctx, p, base.Add(time.Duration(i)*time.Millisecond)); err != nil {
				return err
			}
		}
		return tx.InsertSession(ctx, sess)
	})

	entries, err = f.s.QueueOf(ctx, f.kioskID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(9), entries[0].PlayerID)
	assert.Equal(t, int64(4), entries[1].PlayerID)
	assert.Equal(t, f.kioskID, entries[0].KioskID)

	id, running, err := f.s.RunningSessionID(ctx, f.kioskID)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, sess.ID, id)
}
