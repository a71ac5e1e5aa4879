package models

import "time"

// QueueEntry is a player waiting at a kiosk. A (kiosk, player) pair appears at most once.
type QueueEntry struct {
	KioskID    string    `json:"kiosk_id"`
	PlayerID   int64     `json:"player_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
