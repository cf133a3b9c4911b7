package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/datepoll/pkg/retry"
	"github.com/canopy-network/datepoll/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces every key and channel this service touches.
const KeyPrefix = "datepoll"

// Config addresses one Redis server.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ConfigFromEnv reads REDIS_HOST, REDIS_PORT, REDIS_PASSWORD and REDIS_DB.
func ConfigFromEnv() Config {
	return Config{
		Host:     utils.Env("REDIS_HOST", "localhost"),
		Port:     utils.Env("REDIS_PORT", "6379"),
		Password: utils.Env("REDIS_PASSWORD", ""),
		DB:       utils.EnvInt("REDIS_DB", 0),
	}
}

// Client wraps the Redis client for tally fan-out and the shared prompt guard.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient connects to Redis, retrying the initial ping with backoff.
func NewClient(ctx context.Context, logger *zap.Logger, cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = 3
	err := retry.WithBackoff(ctx, retryCfg, logger, "redis_connect", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", cfg.DB))

	return &Client{client: rdb, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying Redis client.
func (c *Client) GetClient() *redis.Client {
	return c.client
}

// Publish publishes a message to a Pub/Sub channel.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
		return err
	}
	return nil
}

// PSubscribe subscribes to one or more channel patterns, e.g. "datepoll:*:tally".
// The caller is responsible for closing the returned PubSub.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.client.PSubscribe(ctx, patterns...)
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
