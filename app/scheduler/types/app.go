package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/lifecycle"
	"github.com/canopy-network/datepoll/pkg/messaging"
	"github.com/canopy-network/datepoll/pkg/redis"
	"github.com/canopy-network/datepoll/pkg/tally"
	"go.uber.org/zap"
)

// Config is read once from the environment at startup.
type Config struct {
	Addr string

	StoreDriver string
	PostgresURL string
	PostgresDB  string
	SQLitePath  string

	RedisEnabled bool
	Redis        redis.Config

	AdminToken    string
	AdminUser     string
	AdminPassword string
	SessionSecret string

	PlatformURL         string
	PlatformToken       string
	BotUserID           string
	CollaboratorTimeout time.Duration

	JanitorSchedule string
	StreamBuffer    int
}

// User is an admin account able to log in.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type App struct {
	Config Config

	// Persistence
	Store db.PollStore

	// Redis Client (nil unless REDIS_ENABLED)
	RedisClient *redis.Client

	// Live tally fan-out. Publisher is the Bus itself or a Relay over it.
	Bus       *tally.Bus
	Publisher tally.Publisher
	Relay     *tally.Relay

	Platform messaging.Platform
	Guard    lifecycle.PromptGuard
	Service  *lifecycle.Service
	Janitor  *lifecycle.Janitor

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// Start runs the server, relay and janitor until ctx is done, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	if a.Relay != nil {
		go a.Relay.Run(ctx)
	}
	if a.Janitor != nil {
		if err := a.Janitor.Start(ctx); err != nil {
			a.Logger.Error("Unable to start janitor", zap.Error(err))
		}
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Error shutting down server", zap.Error(err))
	}

	if a.Janitor != nil {
		a.Janitor.Stop()
	}

	if a.RedisClient != nil {
		a.Logger.Info("closing redis connection")
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	if a.Store != nil {
		a.Logger.Info("closing poll store")
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Error closing poll store", zap.Error(err))
		}
	}

	_ = a.Logger.Sync()
}
