package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/datepoll/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Executor is an interface that both *pgxpool.Pool and pgx.Tx implement.
// This allows methods to work with either a connection pool or a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client wraps a PostgreSQL connection pool and provides helper methods
type Client struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Component       string // For logging/debugging
}

// DefaultPoolConfig is sized for one API instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConns:        2,
		MaxConns:        20,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		Component:       "datepoll",
	}
}

// New connects to dbURL with retries and verifies the pool with a ping.
func New(ctx context.Context, logger *zap.Logger, dbURL string, poolConf PoolConfig) (client Client, err error) {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	client.Logger = logger

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse POSTGRES_URL: %w", err)
	}
	config.MinConns = poolConf.MinConns
	config.MaxConns = poolConf.MaxConns
	config.MaxConnLifetime = poolConf.ConnMaxLifetime
	config.MaxConnIdleTime = poolConf.ConnMaxIdleTime

	retryErr := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}

		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}
		client.Pool = pool

		logger.Info("PostgreSQL connection pool configured",
			zap.String("component", poolConf.Component),
			zap.Int32("min_conns", poolConf.MinConns),
			zap.Int32("max_conns", poolConf.MaxConns),
			zap.Duration("conn_max_lifetime", poolConf.ConnMaxLifetime),
			zap.Duration("conn_max_idle_time", poolConf.ConnMaxIdleTime),
		)
		return nil
	})
	if retryErr != nil {
		return Client{}, retryErr
	}

	return client, nil
}

// Exec executes a query without returning any rows
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := c.GetExecutor(ctx).Exec(ctx, query, args...)
	return err
}

// QueryRow executes a query that is expected to return at most one row
func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return c.GetExecutor(ctx).QueryRow(ctx, query, args...)
}

// BeginFunc executes fn within a transaction. The transaction is also placed on the context
// handed to fn, so helpers that call GetExecutor join it.
// If fn returns an error, the transaction is rolled back, otherwise it is committed.
func (c *Client) BeginFunc(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.Pool, func(tx pgx.Tx) error {
		return fn(c.WithTx(ctx, tx), tx)
	})
}

// Ping verifies a connection can be acquired.
func (c *Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close closes the connection pool
func (c *Client) Close() {
	c.Pool.Close()
}

// ctxKey is the type used for context keys to avoid collisions
type ctxKey string

// txKey is the context key for storing the transaction
const txKey ctxKey = "pgx_tx"

// WithTx returns a new context with the transaction embedded
func (c *Client) WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// GetExecutor returns the transaction stored on ctx, or the pool when there is none.
func (c *Client) GetExecutor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	return c.Pool
}

// IsNoRows checks if the error is a "no rows" error
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
