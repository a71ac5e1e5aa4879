package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []string
	fail   error
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestHub_BroadcastScoping(t *testing.T) {
	h := NewHub(nil)
	k1 := &fakeConn{id: "a"}
	k2 := &fakeConn{id: "b"}
	g1 := &fakeConn{id: "c"}
	h.Register(ScopeKiosk, "K1", k1)
	h.Register(ScopeKiosk, "K2", k2)
	h.Register(ScopeGame, "K1", g1)

	h.BroadcastKiosk("K1", QueueUpdate{})

	assert.Equal(t, []string{`{"type":"queue_update"}`}, k1.received())
	assert.Empty(t, k2.received())
	assert.Empty(t, g1.received(), "same id on another scope is a different channel")
}

func TestHub_BroadcastEmptyChannel(t *testing.T) {
	h := NewHub(nil)
	assert.NotPanics(t, func() { h.BroadcastGame("nobody", AdminReset{KioskID: "K1"}) })
}

func TestHub_DeadConnectionRemoved(t *testing.T) {
	h := NewHub(nil)
	live := &fakeConn{id: "live"}
	dead := &fakeConn{id: "dead", fail: ErrConnClosed}
	slow := &fakeConn{id: "slow", fail: ErrSlowConsumer}
	h.Register(ScopeKiosk, "K1", live)
	h.Register(ScopeKiosk, "K1", dead)
	h.Register(ScopeKiosk, "K1", slow)
	require.Equal(t, 3, h.ConnectionCount(ScopeKiosk, "K1"))

	h.BroadcastKiosk("K1", KioskSessionStarted{SessionID: 4})

	assert.Len(t, live.received(), 1)
	assert.True(t, dead.closed)
	assert.True(t, slow.closed)
	assert.Equal(t, 1, h.ConnectionCount(ScopeKiosk, "K1"))

	h.BroadcastKiosk("K1", QueueUpdate{})
	assert.Len(t, live.received(), 2)
}

func TestHub_Unregister(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{id: "a"}
	h.Register(ScopeGame, "G1", c)
	h.Unregister(ScopeGame, "G1", c)
	h.Unregister(ScopeGame, "G1", c)
	h.Unregister(ScopeGame, "other", c)

	assert.Equal(t, 0, h.ConnectionCount(ScopeGame, "G1"))
	h.BroadcastGame("G1", AdminReset{KioskID: "K1"})
	assert.Empty(t, c.received())
}

func TestHub_UnregisterKeepsReplacement(t *testing.T) {
	h := NewHub(nil)
	old := &fakeConn{id: "a"}
	replacement := &fakeConn{id: "a"}
	h.Register(ScopeKiosk, "K1", old)
	h.Register(ScopeKiosk, "K1", replacement)

	h.Unregister(ScopeKiosk, "K1", old)
	assert.Equal(t, 1, h.ConnectionCount(ScopeKiosk, "K1"))
}

func TestHub_Ordering(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{id: "a"}
	h.Register(ScopeGame, "G1", c)

	for i := int64(1); i <= 50; i++ {
		h.BroadcastGame("G1", SessionEnded{SessionID: i})
	}

	frames := c.received()
	require.Len(t, frames, 50)
	for i, f := range frames {
		var ev struct {
			SessionID int64 `json:"session_id"`
		}
		require.NoError(t, json.Unmarshal([]byte(f), &ev))
		assert.Equal(t, int64(i+1), ev.SessionID)
	}
}

func TestEvent_Marshal(t *testing.T) {
	mode := "duo"
	cases := map[string]struct {
		event Event
		want  string
	}{
		"queue update": {
			event: QueueUpdate{},
			want:  `{"type":"queue_update"}`,
		},
		"kiosk session started": {
			event: KioskSessionStarted{SessionID: 3},
			want:  `{"type":"session_started","session_id":3}`,
		},
		"game session started": {
			event: GameSessionStarted{SessionID: 3, KioskID: "K1", PlayerCount: 1, Players: []RosterEntry{{PlayerID: 7}}, Mode: &mode},
			want:  `{"type":"session_started","session_id":3,"kiosk_id":"K1","player_count":1,"players":[{"player_id":7}],"mode":"duo"}`,
		},
		"game session started without roster": {
			event: GameSessionStarted{SessionID: 3, KioskID: "K1"},
			want:  `{"type":"session_started","session_id":3,"kiosk_id":"K1","player_count":0,"players":[],"mode":null}`,
		},
		"session ended": {
			event: SessionEnded{SessionID: 3},
			want:  `{"type":"session_ended","session_id":3}`,
		},
		"game ready": {
			event: GameReady{KioskID: "K1", QueueCount: 2},
			want:  `{"type":"game_ready","kiosk_id":"K1","queue_count":2}`,
		},
		"admin reset": {
			event: AdminReset{KioskID: "K1"},
			want:  `{"type":"admin_reset","kiosk_id":"K1"}`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestServeWs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(zap.NewNop())
	r := gin.New()
	r.GET("/ws/kiosk/:id", ServeWs(h, ScopeKiosk, 8, zap.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/kiosk/K1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return h.ConnectionCount(ScopeKiosk, "K1") == 1
	}, time.Second, 10*time.Millisecond)

	h.BroadcastKiosk("K1", KioskSessionStarted{SessionID: 11})
	h.BroadcastKiosk("K1", QueueUpdate{})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, first, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"session_started","session_id":11}`, string(first))
	_, second, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"queue_update"}`, string(second))

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		return h.ConnectionCount(ScopeKiosk, "K1") == 0
	}, time.Second, 10*time.Millisecond)
}
