package models

import "time"

// Game is a game title that one or more kiosks run.
type Game struct {
	ID        int64     `json:"-"`
	GameID    string    `json:"game_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Kiosk is a physical station bound to exactly one game.
type Kiosk struct {
	ID         int64          `json:"-"`
	KioskID    string         `json:"kiosk_id"`
	Location   string         `json:"location,omitempty"`
	GameID     string         `json:"game_id"`
	Modes      []string       `json:"modes"`
	Objectives []string       `json:"objectives"`
	Traits     map[string]any `json:"traits"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DefaultModes is used when a kiosk is created without modes.
var DefaultModes = []string{"default"}
