package realtime

import "encoding/json"

// Scope names the kind of entity a channel belongs to.
type Scope string

const (
	ScopeKiosk Scope = "kiosk"
	ScopeGame  Scope = "game"
)

// Event types carried in the "type" field of every frame.
const (
	TypeQueueUpdate    = "queue_update"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeGameReady      = "game_ready"
	TypeAdminReset     = "admin_reset"
)

// Event is an outbound frame. The set of implementations is closed: only the
// types in this file satisfy it.
type Event interface {
	Type() string
	event()
}

// KioskEvent may be sent on a kiosk channel.
type KioskEvent interface {
	Event
	kioskEvent()
}

// GameEvent may be sent on a game channel.
type GameEvent interface {
	Event
	gameEvent()
}

// QueueUpdate tells kiosk UIs to refetch the queue.
type QueueUpdate struct{}

// KioskSessionStarted is the kiosk-channel form of session_started.
type KioskSessionStarted struct {
	SessionID int64 `json:"session_id"`
}

// RosterEntry is one admitted player in GameSessionStarted.
type RosterEntry struct {
	PlayerID int64 `json:"player_id"`
}

// GameSessionStarted is the game-channel form of session_started, carrying the roster.
type GameSessionStarted struct {
	SessionID   int64         `json:"session_id"`
	KioskID     string        `json:"kiosk_id"`
	PlayerCount int           `json:"player_count"`
	Players     []RosterEntry `json:"players"`
	Mode        *string       `json:"mode"`
}

// SessionEnded is sent on both the kiosk and the game channel.
type SessionEnded struct {
	SessionID int64 `json:"session_id"`
}

// GameReady reports that a game client is ready for a kiosk, with its queue length.
type GameReady struct {
	KioskID    string `json:"kiosk_id"`
	QueueCount int    `json:"queue_count"`
}

// AdminReset tells game clients an operator reset the kiosk.
type AdminReset struct {
	KioskID string `json:"kiosk_id"`
}

func (QueueUpdate) Type() string         { return TypeQueueUpdate }
func (KioskSessionStarted) Type() string { return TypeSessionStarted }
func (GameSessionStarted) Type() string  { return TypeSessionStarted }
func (SessionEnded) Type() string        { return TypeSessionEnded }
func (GameReady) Type() string           { return TypeGameReady }
func (AdminReset) Type() string          { return TypeAdminReset }

func (QueueUpdate) event()         {}
func (KioskSessionStarted) event() {}
func (GameSessionStarted) event()  {}
func (SessionEnded) event()        {}
func (GameReady) event()           {}
func (AdminReset) event()          {}

func (QueueUpdate) kioskEvent()         {}
func (KioskSessionStarted) kioskEvent() {}
func (SessionEnded) kioskEvent()        {}

func (GameSessionStarted) gameEvent() {}
func (SessionEnded) gameEvent()       {}
func (GameReady) gameEvent()          {}
func (AdminReset) gameEvent()         {}

func (e QueueUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{e.Type()})
}

func (e KioskSessionStarted) MarshalJSON() ([]byte, error) {
	type wire KioskSessionStarted
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{e.Type(), wire(e)})
}

func (e GameSessionStarted) MarshalJSON() ([]byte, error) {
	type wire GameSessionStarted
	if e.Players == nil {
		e.Players = []RosterEntry{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{e.Type(), wire(e)})
}

func (e SessionEnded) MarshalJSON() ([]byte, error) {
	type wire SessionEnded
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{e.Type(), wire(e)})
}

func (e GameReady) MarshalJSON() ([]byte, error) {
	type wire GameReady
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{e.Type(), wire(e)})
}

func (e AdminReset) MarshalJSON() ([]byte, error) {
	type wire AdminReset
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{e.Type(), wire(e)})
}
