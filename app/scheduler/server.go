package scheduler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/datepoll/app/scheduler/controller"
	"github.com/canopy-network/datepoll/app/scheduler/types"
)

// NewServer sets app.Server to the HTTP server for the poll API.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	app.Server = &http.Server{
		Addr:              app.Config.Addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", app.Config.Addr))

	return nil
}
