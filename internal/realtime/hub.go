package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/arcade-kiosk/server/internal/metrics"
)

var (
	// ErrConnClosed is returned by Conn.Send once the connection has gone away.
	ErrConnClosed = errors.New("realtime: connection closed")
	// ErrSlowConsumer is returned by Conn.Send when the send buffer is full.
	ErrSlowConsumer = errors.New("realtime: send buffer full")
)

// Conn is a registered observer connection.
type Conn interface {
	ID() string
	// Send queues an already-serialized frame without blocking.
	Send(frame []byte) error
	Close()
}

// ChannelKey identifies a channel: a scope plus an entity id.
type ChannelKey struct {
	Scope Scope
	ID    string
}

type channel struct {
	// sendMu serializes broadcasts on the channel so every connection sees
	// frames in the order Broadcast was called.
	sendMu sync.Mutex
	conns  map[string]Conn
}

// Hub is the connection registry and event broadcaster. Create one per process
// with NewHub and pass it to whatever needs it.
type Hub struct {
	mu       sync.RWMutex
	channels map[ChannelKey]*channel
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[ChannelKey]*channel),
		logger:   logger,
	}
}

// Register adds c to the channel, creating the channel on first use.
func (h *Hub) Register(scope Scope, id string, c Conn) {
	key := ChannelKey{Scope: scope, ID: id}
	h.mu.Lock()
	ch, ok := h.channels[key]
	if !ok {
		ch = &channel{conns: make(map[string]Conn)}
		h.channels[key] = ch
	}
	_, existed := ch.conns[c.ID()]
	ch.conns[c.ID()] = c
	h.mu.Unlock()

	if !existed {
		metrics.Connections.WithLabelValues(string(scope)).Inc()
	}
	h.logger.Debug("connection registered", zap.String("scope", string(scope)), zap.String("id", id), zap.String("conn_id", c.ID()))
}

// Unregister removes c from the channel. Removing an absent connection is a no-op.
// The channel itself is kept, empty, for the life of the process.
func (h *Hub) Unregister(scope Scope, id string, c Conn) {
	key := ChannelKey{Scope: scope, ID: id}
	h.mu.Lock()
	removed := false
	if ch, ok := h.channels[key]; ok {
		if cur, ok := ch.conns[c.ID()]; ok && cur == c {
			delete(ch.conns, c.ID())
			removed = true
		}
	}
	h.mu.Unlock()

	if removed {
		metrics.Connections.WithLabelValues(string(scope)).Dec()
		h.logger.Debug("connection unregistered", zap.String("scope", string(scope)), zap.String("id", id), zap.String("conn_id", c.ID()))
	}
}

// Broadcast serializes ev once and queues it on every connection registered on
// the channel at call time. A connection that fails to accept the frame is
// unregistered and closed; the others still receive it.
func (h *Hub) Broadcast(scope Scope, id string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", ev.Type()), zap.Error(err))
		return
	}

	h.mu.RLock()
	ch := h.channels[ChannelKey{Scope: scope, ID: id}]
	h.mu.RUnlock()
	metrics.Broadcasts.WithLabelValues(string(scope), ev.Type()).Inc()
	if ch == nil {
		return
	}

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	for _, c := range h.snapshot(ch) {
		if err := c.Send(data); err != nil {
			h.Unregister(scope, id, c)
			c.Close()
			metrics.DroppedConnections.WithLabelValues(string(scope)).Inc()
			h.logger.Debug("dropped connection on broadcast",
				zap.String("scope", string(scope)),
				zap.String("id", id),
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
		}
	}
}

// BroadcastKiosk sends an event that belongs on a kiosk channel.
func (h *Hub) BroadcastKiosk(kioskID string, ev KioskEvent) {
	h.Broadcast(ScopeKiosk, kioskID, ev)
}

// BroadcastGame sends an event that belongs on a game channel.
func (h *Hub) BroadcastGame(gameID string, ev GameEvent) {
	h.Broadcast(ScopeGame, gameID, ev)
}

// ConnectionCount returns the number of connections registered on a channel.
func (h *Hub) ConnectionCount(scope Scope, id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.channels[ChannelKey{Scope: scope, ID: id}]; ok {
		return len(ch.conns)
	}
	return 0
}

func (h *Hub) snapshot(ch *channel) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(ch.conns))
	for _, c := range ch.conns {
		out = append(out, c)
	}
	return out
}
