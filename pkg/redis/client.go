package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configure the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key this process writes, e.g. "kiosk".
	Prefix string
}

// Client wraps go-redis client with a key prefix and logger.
type Client struct {
	*redis.Client
	prefix string
	logger *zap.Logger
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis client connected", zap.String("addr", opts.Addr), zap.String("prefix", opts.Prefix))
	return &Client{Client: rdb, prefix: opts.Prefix, logger: logger}, nil
}

// Close closes the connection pool and logs a failure instead of returning it,
// so callers can defer it.
func (c *Client) Close() {
	if err := c.Client.Close(); err != nil {
		c.logger.Warn("redis close", zap.Error(err))
		return
	}
	c.logger.Info("Redis client closed", zap.String("prefix", c.prefix))
}

// Prefix returns the key namespace.
func (c *Client) Prefix() string {
	return c.prefix
}

// Key joins the prefix and parts with ':'.
func Key(prefix string, parts ...string) string {
	if prefix == "" {
		return strings.Join(parts, ":")
	}
	return prefix + ":" + strings.Join(parts, ":")
}
