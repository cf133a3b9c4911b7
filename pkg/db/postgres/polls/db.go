// Package polls is the PostgreSQL PollStore.
package polls

import (
	"context"
	"fmt"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB implements db.PollStore on top of a pgx pool.
type DB struct {
	postgres.Client
}

var _ db.PollStore = (*DB)(nil)

// New connects to dbURL and ensures the schema exists.
func New(ctx context.Context, logger *zap.Logger, dbURL string, poolConfig postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", poolConfig.Component)), dbURL, poolConfig)
	if err != nil {
		return nil, err
	}

	pollsDB := &DB{Client: client}
	if err := pollsDB.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return pollsDB, nil
}

// Close terminates the underlying PostgreSQL connection pool
func (d *DB) Close() error {
	d.Pool.Close()
	return nil
}

// InitializeDB creates the poll, option and vote tables when missing.
func (d *DB) InitializeDB(ctx context.Context) error {
	d.Logger.Info("Initialize poll tables")
	for _, stmt := range schema {
		if err := d.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS poll (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closing', 'closed')),
		deadline TIMESTAMPTZ,
		finalized_date TEXT,
		finalized_option_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS option (
		id TEXT PRIMARY KEY,
		poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		date TEXT,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_option_poll_id ON option(poll_id, position)`,
	`CREATE TABLE IF NOT EXISTS vote (
		poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
		option_id TEXT NOT NULL REFERENCES option(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		choice SMALLINT NOT NULL CHECK (choice BETWEEN 0 AND 2),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (poll_id, option_id, user_id)
	)`,
}
