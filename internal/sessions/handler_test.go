package sessions_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-kiosk/server/internal/auth"
	"github.com/arcade-kiosk/server/internal/gamesession"
	"github.com/arcade-kiosk/server/internal/middleware"
	"github.com/arcade-kiosk/server/internal/models"
	"github.com/arcade-kiosk/server/internal/orchestrator"
	"github.com/arcade-kiosk/server/internal/realtime"
	"github.com/arcade-kiosk/server/internal/sessions"
	"github.com/arcade-kiosk/server/internal/store"
)

const (
	kioskKey  = "k-secret"
	gameKey   = "g-secret"
	jwtSecret = "test-secret"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Kind    string          `json:"kind"`
}

func setup(t *testing.T) (*gin.Engine, *orchestrator.Orchestrator, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	s := store.NewMemory()
	require.NoError(t, s.CreateGame(ctx, &models.Game{GameID: "G1", Name: "Laser Maze"}))
	require.NoError(t, s.CreateKiosk(ctx, &models.Kiosk{KioskID: "alpha1", GameID: "G1"}))

	orch := orchestrator.New(s, gamesession.NewMachine(s), realtime.NewHub(nil))
	gate := auth.NewDeviceGate(
		map[string]string{"alpha1": kioskKey},
		map[string]string{"G1": gameKey},
		auth.NewJWTService(jwtSecret, 1),
	)
	h := sessions.NewHandler(orch, gate)

	r := gin.New()
	r.Use(middleware.Credential())
	r.POST("/sessions/start", h.Start)
	r.POST("/sessions/end", h.End)
	return r, orch, s
}

func post(t *testing.T, r *gin.Engine, path string, body any, header, value string) (int, envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestHandler_Scenario(t *testing.T) {
	r, orch, s := setup(t)
	ctx := context.Background()
	_, err := orch.JoinQueue(ctx, "alpha1", 7)
	require.NoError(t, err)
	_, err = orch.JoinQueue(ctx, "alpha1", 9)
	require.NoError(t, err)

	code, env := post(t, r, "/sessions/start", gin.H{"kiosk_id": "alpha1"}, auth.HeaderAPIKey, kioskKey)
	require.Equal(t, http.StatusCreated, code)
	var started sessions.Summary
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.True(t, started.Created)
	assert.Equal(t, []int64{7, 9}, started.PlayerIDs)
	assert.Equal(t, models.StatusRunning, started.Status)

	code, env = post(t, r, "/sessions/start", gin.H{"kiosk_id": "alpha1"}, auth.HeaderAPIKey, kioskKey)
	require.Equal(t, http.StatusOK, code)
	var again sessions.Summary
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.False(t, again.Created)
	assert.Equal(t, started.ID, again.ID)

	end := gin.H{
		"session_id": started.ID,
		"players": []gin.H{
			{"player_id": 7, "score": 40},
			{"player_id": 9, "score": 55},
		},
	}
	code, _ = post(t, r, "/sessions/end", end, auth.HeaderAPIKey, gameKey)
	require.Equal(t, http.StatusOK, code)

	sess, err := s.GetSession(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, sess.Status)
	assert.Equal(t, 40, sess.Players[0].Score)
	assert.Equal(t, 55, sess.Players[1].Score)

	code, env = post(t, r, "/sessions/start", gin.H{"kiosk_id": "alpha1"}, auth.HeaderAPIKey, kioskKey)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "empty_queue", env.Kind)

	code, env = post(t, r, "/sessions/end", end, auth.HeaderAPIKey, gameKey)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_session", env.Kind)
}

func TestHandler_Auth(t *testing.T) {
	r, orch, _ := setup(t)
	ctx := context.Background()
	_, err := orch.JoinQueue(ctx, "alpha1", 7)
	require.NoError(t, err)

	code, _ := post(t, r, "/sessions/start", gin.H{"kiosk_id": "alpha1"}, auth.HeaderAPIKey, gameKey)
	assert.Equal(t, http.StatusUnauthorized, code, "a game key does not start sessions")

	token, err := auth.NewJWTService(jwtSecret, 1).Generate(auth.ScopeKiosk, "alpha1")
	require.NoError(t, err)
	code, env := post(t, r, "/sessions/start", gin.H{"kiosk_id": "alpha1"}, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, code)
	var started sessions.Summary
	require.NoError(t, json.Unmarshal(env.Data, &started))

	code, _ = post(t, r, "/sessions/end", gin.H{"session_id": started.ID}, auth.HeaderAPIKey, kioskKey)
	assert.Equal(t, http.StatusUnauthorized, code, "a kiosk key does not end sessions")

	code, _ = post(t, r, "/sessions/end", gin.H{"session_id": started.ID}, "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHandler_EndUnknownSession(t *testing.T) {
	r, _, _ := setup(t)

	code, env := post(t, r, "/sessions/end", gin.H{"session_id": 404}, auth.HeaderAPIKey, gameKey)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_session", env.Kind)
}

func TestHandler_BadBody(t *testing.T) {
	r, _, _ := setup(t)

	code, env := post(t, r, "/sessions/start", gin.H{}, auth.HeaderAPIKey, kioskKey)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_argument", env.Kind)
}
