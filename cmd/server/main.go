// Package main runs the kiosk orchestration HTTP server with WebSocket observers and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/arcade-kiosk/server/config"
	"github.com/arcade-kiosk/server/internal/auth"
	"github.com/arcade-kiosk/server/internal/gamesession"
	"github.com/arcade-kiosk/server/internal/games"
	"github.com/arcade-kiosk/server/internal/kiosks"
	"github.com/arcade-kiosk/server/internal/leaderboard"
	"github.com/arcade-kiosk/server/internal/metrics"
	"github.com/arcade-kiosk/server/internal/middleware"
	"github.com/arcade-kiosk/server/internal/orchestrator"
	"github.com/arcade-kiosk/server/internal/realtime"
	"github.com/arcade-kiosk/server/internal/sessions"
	"github.com/arcade-kiosk/server/internal/store"
	"github.com/arcade-kiosk/server/internal/worker"
	"github.com/arcade-kiosk/server/pkg/database"
	"github.com/arcade-kiosk/server/pkg/jobqueue"
	"github.com/arcade-kiosk/server/pkg/redis"
	"github.com/arcade-kiosk/server/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer st.Close()

	// Redis is optional: without it there is no leaderboard and no results queue.
	var (
		board     *leaderboard.Service
		jobQueue  *jobqueue.Queue
		processor *worker.ResultsProcessor
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()

		board = leaderboard.NewService(leaderboard.Config{Redis: rdb.Client, Prefix: rdb.Prefix()})
		jobQueue = jobqueue.NewQueue(rdb.Client, rdb.Prefix(),
			jobqueue.WithMaxAttempts(cfg.Results.MaxAttempts),
			jobqueue.WithLogger(logger),
		)
		if cfg.Results.WorkerEnabled {
			processor = worker.NewResultsProcessor(jobQueue, board, logger)
		}
	} else {
		logger.Warn("REDIS_ADDR not set: leaderboard and results queue disabled")
	}

	var jwtService *auth.JWTService
	if cfg.JWT.Secret != "" {
		jwtService = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	}
	gate := auth.NewDeviceGate(cfg.Auth.KioskKeys, cfg.Auth.GameKeys, jwtService)
	adminAuth, err := auth.NewAdminAuth(cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
	if err != nil {
		logger.Fatal("admin auth", zap.Error(err))
	}

	hub := realtime.NewHub(logger)
	orchOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if jobQueue != nil {
		orchOpts = append(orchOpts, orchestrator.WithResultsSink(worker.NewResultsSink(jobQueue)))
	}
	orch := orchestrator.New(st, gamesession.NewMachine(st), hub, orchOpts...)

	kioskHandler := kiosks.NewHandler(orch, st, hub)
	sessionHandler := sessions.NewHandler(orch, gate)
	var gameBoard games.Leaderboard
	if board != nil {
		gameBoard = board
	}
	gameHandler := games.NewHandler(orch, st, gate, gameBoard)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Credential())

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", metrics.Handler())

	requireAdmin := middleware.RequireAdmin(adminAuth)
	requireKiosk := middleware.RequireKiosk(gate, "kiosk_id")

	// Kiosks
	kioskGroup := router.Group("/kiosks")
	{
		kioskGroup.GET("", kioskHandler.List)
		kioskGroup.POST("", requireAdmin, kioskHandler.Create)
		kioskGroup.GET("/:kiosk_id", kioskHandler.Get)
		kioskGroup.DELETE("/:kiosk_id", requireAdmin, kioskHandler.Delete)
		kioskGroup.POST("/:kiosk_id/config", requireAdmin, kioskHandler.UpdateConfig)
		kioskGroup.GET("/:kiosk_id/status", kioskHandler.Status)
		kioskGroup.POST("/:kiosk_id/reset", requireAdmin, kioskHandler.Reset)
		kioskGroup.GET("/:kiosk_id/queue", kioskHandler.Queue)
		kioskGroup.POST("/:kiosk_id/queue", requireKiosk, kioskHandler.Join)
		kioskGroup.POST("/:kiosk_id/queue/remove", requireKiosk, kioskHandler.Leave)
		kioskGroup.POST("/:kiosk_id/queue/reset", requireAdmin, kioskHandler.Reset)
	}

	// Sessions (gate checked in handler: the device id is in the body)
	router.POST("/sessions/start", sessionHandler.Start)
	router.POST("/sessions/end", sessionHandler.End)

	// Games
	gameGroup := router.Group("/games")
	{
		gameGroup.POST("", requireAdmin, gameHandler.Create)
		gameGroup.POST("/ready", gameHandler.Ready)
		gameGroup.GET("/:game_id/history", gameHandler.History)
		gameGroup.GET("/:game_id/leaderboard", gameHandler.Leaderboard)
	}

	// WebSocket observers
	router.GET("/ws/kiosk/:id", realtime.ServeWs(hub, realtime.ScopeKiosk, cfg.Realtime.SendBuffer, logger))
	router.GET("/ws/game/:id", realtime.ServeWs(hub, realtime.ScopeGame, cfg.Realtime.SendBuffer, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if processor != nil {
		eg.Go(func() error { return processor.Run(egCtx) })
	}
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == config.StoreMemory {
		logger.Warn("using in-memory store: state is lost on restart")
		return store.NewMemory(), nil
	}

	pool, err := database.Open(ctx, database.PoolOptions{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		HealthCheck: time.Minute,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return store.NewPostgres(pool), nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
