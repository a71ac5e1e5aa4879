package games

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arcade-kiosk/server/internal/apperr"
	"github.com/arcade-kiosk/server/internal/auth"
	"github.com/arcade-kiosk/server/internal/leaderboard"
	"github.com/arcade-kiosk/server/internal/middleware"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/orchestrator"
	"github.com/arcade-kiosk/server/internal/store"
	"github.com/arcade-kiosk/server/pkg/response"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CreateRequest is the body for POST /games.
type CreateRequest struct {
	GameID string `json:"game_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

// HistoryPlayer is one player's line in a history entry.
type HistoryPlayer struct {
	PlayerID    int64 `json:"player_id"`
	Score       int   `json:"score"`
	PlayTimeSec int   `json:"play_time_sec"`
}

// HistoryEntry is one session in GET /games/:game_id/history.
type HistoryEntry struct {
	SessionID int64                `json:"session_id"`
	KioskID   string               `json:"kiosk_id"`
	Status    models.SessionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   *time.Time           `json:"ended_at"`
	Players   []HistoryPlayer      `json:"players"`
}

// Leaderboard reads a game's best scores. *leaderboard.Service implements it.
type Leaderboard interface {
	Top(ctx context.Context, gameID string, limit int) ([]leaderboard.Entry, error)
}

// Handler handles game HTTP endpoints.
type Handler struct {
	orch  *orchestrator.Orchestrator
	store store.Store
	gate  auth.Gate
	board Leaderboard
}

// NewHandler creates a games handler. board may be nil when Redis is disabled.
func NewHandler(orch *orchestrator.Orchestrator, s store.Store, gate auth.Gate, board Leaderboard) *Handler {
	return &Handler{orch: orch, store: s, gate: gate, board: board}
}

// Create handles POST /games (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	g := &models.Game{GameID: req.GameID, Name: req.Name}
	if err := h.store.CreateGame(c.Request.Context(), g); err != nil {
		if errors.Is(err, store.ErrConflict) {
			response.Conflict(c, "game exists")
			return
		}
		response.Error(c, err)
		return
	}
	response.Created(c, g)
}

// Ready handles POST /games/ready?game_id=&kiosk_id= (game).
func (h *Handler) Ready(c *gin.Context) {
	gameID, kioskID := c.Query("game_id"), c.Query("kiosk_id")
	if gameID == "" || kioskID == "" {
		response.BadRequest(c, "game_id and kiosk_id are required")
		return
	}
	if !h.gate.AllowGame(middleware.CredentialFrom(c), gameID) {
		response.Unauthorized(c, "game credential required")
		return
	}

	count, err := h.orch.GameReady(c.Request.Context(), gameID, kioskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"kiosk_id": kioskID, "queue_count": count})
}

// History handles GET /games/:game_id/history.
func (h *Handler) History(c *gin.Context) {
	ctx := c.Request.Context()
	gameID := c.Param("game_id")
	if _, err := h.store.GetGame(ctx, gameID); err != nil {
		h.gameError(c, gameID, err)
		return
	}

	limit := parseLimit(c.Query("limit"), defaultHistoryLimit, maxHistoryLimit)
	list, err := h.store.ListSessionsByGame(ctx, gameID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]HistoryEntry, 0, len(list))
	for _, s := range list {
		e := HistoryEntry{
			SessionID: s.ID,
			KioskID:   s.KioskID,
			Status:    s.Status,
			StartedAt: s.StartedAt,
			EndedAt:   s.EndedAt,
			Players:   make([]HistoryPlayer, 0, len(s.Players)),
		}
		for _, p := range s.Players {
			e.Players = append(e.Players, HistoryPlayer{PlayerID: p.PlayerID, Score: p.Score, PlayTimeSec: p.PlayTimeSec})
		}
		out = append(out, e)
	}
	response.OK(c, gin.H{"game_id": gameID, "sessions": out})
}

// Leaderboard handles GET /games/:game_id/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	ctx := c.Request.Context()
	gameID := c.Param("game_id")
	if h.board == nil {
		response.Error(c, apperr.New(apperr.KindNotFound, apperr.WithMessagef("leaderboard is not enabled")))
		return
	}
	if _, err := h.store.GetGame(ctx, gameID); err != nil {
		h.gameError(c, gameID, err)
		return
	}

	limit := parseLimit(c.Query("limit"), leaderboard.DefaultLimit, leaderboard.MaxLimit)
	entries, err := h.board.Top(ctx, gameID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"game_id": gameID, "entries": entries})
}

func (h *Handler) gameError(c *gin.Context, gameID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(c, apperr.NotFound("game %s not found", gameID))
		return
	}
	response.Error(c, err)
}

// parseLimit clamps a ?limit value to [1, max], using def when absent or malformed.
func parseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}
