// Package main runs the session results worker on its own, for deployments
// that start the server with RESULTS_WORKER=false.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arcade-kiosk/server/config"
	"github.com/arcade-kiosk/server/internal/leaderboard"
	"github.com/arcade-kiosk/server/internal/worker"
	"github.com/arcade-kiosk/server/pkg/jobqueue"
	"github.com/arcade-kiosk/server/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("REDIS_ADDR is required for the results worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	board := leaderboard.NewService(leaderboard.Config{Redis: rdb.Client, Prefix: rdb.Prefix()})
	jobQueue := jobqueue.NewQueue(rdb.Client, rdb.Prefix(),
		jobqueue.WithMaxAttempts(cfg.Results.MaxAttempts),
		jobqueue.WithLogger(logger),
	)
	processor := worker.NewResultsProcessor(jobQueue, board, logger)

	if err := processor.Run(ctx); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
