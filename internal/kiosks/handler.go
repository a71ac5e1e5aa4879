package kiosks

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/arcade-kiosk/server/internal/apperr"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/orchestrator"
	"github.com/arcade-kiosk/server/internal/realtime"
	"github.com/arcade-kiosk/server/internal/store"
	"github.com/arcade-kiosk/server/pkg/response"
)

// CreateRequest is the body for POST /kiosks.
type CreateRequest struct {
	KioskID    string         `json:"kiosk_id" binding:"required"`
	Location   string         `json:"location"`
	GameID     string         `json:"game_id" binding:"required"`
	Modes      []string       `json:"modes"`
	Objectives []string       `json:"objectives"`
	Traits     map[string]any `json:"traits"`
}

// ConfigRequest is the body for POST /kiosks/:kiosk_id/config. Absent fields are left unchanged.
type ConfigRequest struct {
	Location   *string         `json:"location"`
	Modes      *[]string       `json:"modes"`
	Objectives *[]string       `json:"objectives"`
	Traits     *map[string]any `json:"traits"`
}

// PlayerRequest is the body for the queue join and leave endpoints.
type PlayerRequest struct {
	PlayerID int64 `json:"player_id" binding:"required"`
}

// Status is the GET /kiosks/:kiosk_id/status response.
type Status struct {
	KioskID    string         `json:"kiosk_id"`
	Status     string         `json:"status"`
	SessionID  *int64         `json:"session_id"`
	Modes      []string       `json:"modes"`
	Objectives []string       `json:"objectives"`
	Traits     map[string]any `json:"traits"`
}

// Detail is a kiosk with its game name, connection flag and state.
type Detail struct {
	models.Kiosk
	GameName  string `json:"game_name,omitempty"`
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
}

// Handler handles kiosk HTTP endpoints.
type Handler struct {
	orch  *orchestrator.Orchestrator
	store store.Store
	hub   *realtime.Hub
}

// NewHandler creates a kiosks handler.
func NewHandler(orch *orchestrator.Orchestrator, s store.Store, hub *realtime.Hub) *Handler {
	return &Handler{orch: orch, store: s, hub: hub}
}

// Create handles POST /kiosks (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	k := &models.Kiosk{
		KioskID:    req.KioskID,
		Location:   req.Location,
		GameID:     req.GameID,
		Modes:      req.Modes,
		Objectives: req.Objectives,
		Traits:     req.Traits,
	}
	if len(k.Modes) == 0 {
		k.Modes = append([]string(nil), models.DefaultModes...)
	}
	if k.Objectives == nil {
		k.Objectives = []string{}
	}
	if k.Traits == nil {
		k.Traits = map[string]any{}
	}

	if err := h.store.CreateKiosk(c.Request.Context(), k); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.BadRequest(c, "unknown game_id")
		case errors.Is(err, store.ErrConflict):
			response.Conflict(c, "kiosk exists")
		default:
			response.Error(c, err)
		}
		return
	}
	response.Created(c, k)
}

// List handles GET /kiosks.
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.store.ListKiosks(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]Detail, 0, len(list))
	for _, k := range list {
		d := Detail{
			Kiosk:     k,
			Connected: h.hub.ConnectionCount(realtime.ScopeKiosk, k.KioskID) > 0,
			Status:    "unknown",
		}
		// A kiosk deleted since the listing simply keeps "unknown".
		if st, err := h.orch.GetStatus(ctx, k.KioskID); err == nil {
			d.Status = string(st.State)
		}
		out = append(out, d)
	}
	response.OK(c, out)
}

// Get handles GET /kiosks/:kiosk_id.
func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	kioskID := c.Param("kiosk_id")
	k, err := h.store.GetKiosk(ctx, kioskID)
	if err != nil {
		h.kioskError(c, kioskID, err)
		return
	}

	d := Detail{
		Kiosk:     *k,
		Connected: h.hub.ConnectionCount(realtime.ScopeKiosk, k.KioskID) > 0,
	}
	if g, err := h.store.GetGame(ctx, k.GameID); err == nil {
		d.GameName = g.Name
	}
	st, err := h.orch.GetStatus(ctx, kioskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	d.Status = string(st.State)
	response.OK(c, d)
}

// UpdateConfig handles POST /kiosks/:kiosk_id/config (admin).
func (h *Handler) UpdateConfig(c *gin.Context) {
	ctx := c.Request.Context()
	kioskID := c.Param("kiosk_id")

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	k, err := h.store.GetKiosk(ctx, kioskID)
	if err != nil {
		h.kioskError(c, kioskID, err)
		return
	}
	if req.Location != nil {
		k.Location = *req.Location
	}
	if req.Modes != nil {
		k.Modes = *req.Modes
	}
	if req.Objectives != nil {
		k.Objectives = *req.Objectives
	}
	if req.Traits != nil {
		k.Traits = *req.Traits
	}
	if err := h.store.UpdateKiosk(ctx, k); err != nil {
		h.kioskError(c, kioskID, err)
		return
	}
	response.OK(c, k)
}

// Delete handles DELETE /kiosks/:kiosk_id (admin).
func (h *Handler) Delete(c *gin.Context) {
	res, err := h.orch.DeleteKiosk(c.Request.Context(), c.Param("kiosk_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Reset handles POST /kiosks/:kiosk_id/reset and /kiosks/:kiosk_id/queue/reset (admin).
func (h *Handler) Reset(c *gin.Context) {
	res, err := h.orch.ResetKiosk(c.Request.Context(), c.Param("kiosk_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Join handles POST /kiosks/:kiosk_id/queue (kiosk).
func (h *Handler) Join(c *gin.Context) {
	kioskID := c.Param("kiosk_id")
	var req PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	inserted, err := h.orch.JoinQueue(c.Request.Context(), kioskID, req.PlayerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"kiosk_id": kioskID, "player_id": req.PlayerID, "queued": inserted})
}

// Leave handles POST /kiosks/:kiosk_id/queue/remove (kiosk). A player who is
// not queued is not an error.
func (h *Handler) Leave(c *gin.Context) {
	kioskID := c.Param("kiosk_id")
	var req PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	removed, err := h.orch.LeaveQueue(c.Request.Context(), kioskID, req.PlayerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"kiosk_id": kioskID, "player_id": req.PlayerID, "removed": removed})
}

// Queue handles GET /kiosks/:kiosk_id/queue.
func (h *Handler) Queue(c *gin.Context) {
	kioskID := c.Param("kiosk_id")
	entries, err := h.orch.GetQueue(c.Request.Context(), kioskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	response.OK(c, gin.H{"kiosk_id": kioskID, "queue": entries})
}

// Status handles GET /kiosks/:kiosk_id/status.
func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	kioskID := c.Param("kiosk_id")
	k, err := h.store.GetKiosk(ctx, kioskID)
	if err != nil {
		h.kioskError(c, kioskID, err)
		return
	}
	st, err := h.orch.GetStatus(ctx, kioskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, Status{
		KioskID:    kioskID,
		Status:     string(st.State),
		SessionID:  st.SessionID,
		Modes:      k.Modes,
		Objectives: k.Objectives,
		Traits:     k.Traits,
	})
}

func (h *Handler) kioskError(c *gin.Context, kioskID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(c, apperr.NotFound("kiosk %s not found", kioskID))
		return
	}
	response.Error(c, err)
}
