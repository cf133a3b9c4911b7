package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/canopy-network/datepoll/pkg/db/memory"
	"github.com/canopy-network/datepoll/pkg/db/sqlite"
	"github.com/canopy-network/datepoll/pkg/lifecycle"
	"github.com/canopy-network/datepoll/pkg/messaging/messagingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("COLLABORATOR_TIMEOUT", "750ms")
	t.Setenv("STREAM_BUFFER", "16")

	cfg := LoadConfig()
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 750*time.Millisecond, cfg.CollaboratorTimeout)
	assert.Equal(t, 16, cfg.StreamBuffer)
	assert.Equal(t, "@every 10m", cfg.JanitorSchedule)
}

func TestPostgresURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		dbName string
		want   string
	}{
		{"no override", "postgres://u:p@h:5432/datepoll?sslmode=disable", "", "postgres://u:p@h:5432/datepoll?sslmode=disable"},
		{"override", "postgres://u:p@h:5432/datepoll?sslmode=disable", "other", "postgres://u:p@h:5432/other?sslmode=disable"},
		{"no path", "postgres://h:5432", "other", "postgres://h:5432/other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := postgresURL(tt.raw, tt.dbName)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("memory", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.StoreDriver = "memory"
		store, err := OpenStore(ctx, logger, cfg)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.StoreDriver = "sqlite"
		cfg.SQLitePath = filepath.Join(t.TempDir(), "polls.db")
		store, err := OpenStore(ctx, logger, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlite.Store{}, store)
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.StoreDriver = "mongo"
		_, err := OpenStore(ctx, logger, cfg)
		assert.ErrorContains(t, err, "mongo")
	})
}

func TestWireSingleInstance(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := LoadConfig()
	app := Wire(cfg, logger, memory.NewStore(), &messagingtest.Recorder{}, nil)

	assert.Nil(t, app.Relay)
	assert.Same(t, app.Bus, app.Publisher)
	assert.IsType(t, &lifecycle.MemoryGuard{}, app.Guard)
	require.NotNil(t, app.Service)
	assert.Same(t, app.Guard, app.Service.Lifecycle.Guard)
	assert.Equal(t, cfg.JanitorSchedule, app.Janitor.Schedule)

	require.NoError(t, NewServer(app))
	assert.Equal(t, cfg.Addr, app.Server.Addr)
}
