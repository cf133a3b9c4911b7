package controller

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := c.App.Store.Ping(ctx); err != nil {
		c.App.Logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
