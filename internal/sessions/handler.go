package sessions

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arcade-kiosk/server/internal/apperr"
	"github.com/arcade-kiosk/server/internal/auth"
	"github.com/arcade-kiosk/server/internal/middleware"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/orchestrator"
	"github.com/arcade-kiosk/server/pkg/response"
)

// StartRequest is the body for POST /sessions/start.
type StartRequest struct {
	KioskID string `json:"kiosk_id" binding:"required"`
	Mode    string `json:"mode"`
}

// EndRequest is the body for POST /sessions/end.
type EndRequest struct {
	SessionID   int64                 `json:"session_id" binding:"required"`
	GameMetrics map[string]any        `json:"game_metrics"`
	Players     []models.PlayerResult `json:"players" binding:"dive"`
}

// Summary is returned by start and end.
type Summary struct {
	ID        int64                `json:"id"`
	KioskID   string               `json:"kiosk_id"`
	GameID    string               `json:"game_id"`
	Status    models.SessionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`
	PlayerIDs []int64              `json:"player_ids"`
	Created   bool                 `json:"created"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	orch *orchestrator.Orchestrator
	gate auth.Gate
}

// NewHandler creates a sessions handler.
func NewHandler(orch *orchestrator.Orchestrator, gate auth.Gate) *Handler {
	return &Handler{orch: orch, gate: gate}
}

// Start handles POST /sessions/start (kiosk). Starting while a session runs
// returns that session with created=false.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !h.gate.AllowKiosk(middleware.CredentialFrom(c), req.KioskID) {
		response.Unauthorized(c, "kiosk credential required")
		return
	}

	sess, created, err := h.orch.StartSession(c.Request.Context(), req.KioskID, req.Mode)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, response.Body{Success: true, Data: summary(sess, created)})
}

// End handles POST /sessions/end (game).
func (h *Handler) End(c *gin.Context) {
	var req EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sess, err := h.orch.Session(c.Request.Context(), req.SessionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			err = apperr.New(apperr.KindInvalidSession, apperr.WithMessagef("session %d not found", req.SessionID))
		}
		response.Error(c, err)
		return
	}
	if !h.gate.AllowGame(middleware.CredentialFrom(c), sess.GameID) {
		response.Unauthorized(c, "game credential required")
		return
	}

	ended, err := h.orch.EndSession(c.Request.Context(), req.SessionID, req.Players, req.GameMetrics)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary(ended, false))
}

func summary(s *models.GameSession, created bool) Summary {
	return Summary{
		ID:        s.ID,
		KioskID:   s.KioskID,
		GameID:    s.GameID,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		PlayerIDs: s.PlayerIDs(),
		Created:   created,
	}
}
