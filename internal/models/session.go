package models

import "time"

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	// StatusPending is reserved by the schema; sessions are created running.
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusEnded     SessionStatus = "ended"
	StatusCancelled SessionStatus = "cancelled"
)

// GameSession is one play of a game at a kiosk by the players admitted from its queue.
type GameSession struct {
	ID        int64           `json:"id"`
	KioskID   string          `json:"kiosk_id"`
	GameID    string          `json:"game_id"`
	Status    SessionStatus   `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Meta      map[string]any  `json:"meta"`
	Players   []SessionPlayer `json:"players"`
}

// Running reports whether the session is still in play.
func (s *GameSession) Running() bool {
	return s.Status == StatusRunning
}

// Mode returns the mode the session was started with, if any.
func (s *GameSession) Mode() string {
	if s.Meta == nil {
		return ""
	}
	m, _ := s.Meta["mode"].(string)
	return m
}

// PlayerIDs returns the roster in admission order.
func (s *GameSession) PlayerIDs() []int64 {
	ids := make([]int64, 0, len(s.Players))
	for _, p := range s.Players {
		ids = append(ids, p.PlayerID)
	}
	return ids
}

// SessionPlayer holds one player's result within a session.
type SessionPlayer struct {
	PlayerID    int64          `json:"player_id"`
	Score       int            `json:"score"`
	PlayTimeSec int            `json:"play_time_sec"`
	Metrics     map[string]any `json:"metrics"`
}

// PlayerResult is a game client's report for one player at session end.
type PlayerResult struct {
	PlayerID    int64          `json:"player_id" binding:"required"`
	Score       int            `json:"score"`
	PlayTimeSec int            `json:"play_time_sec"`
	Metrics     map[string]any `json:"metrics"`
}
