package controller

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandleSetDeadline sets the deadline, or clears it when "deadline" is null or missing.
func (c *Controller) HandleSetDeadline(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Deadline *time.Time `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	pollID := mux.Vars(r)["id"]
	p, err := c.App.Service.SetDeadline(r.Context(), pollID, in.Deadline)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.App.Logger.Info("Deadline updated", zap.String("poll_id", pollID), zap.Timep("deadline", p.Deadline))
	writeJSON(w, http.StatusOK, map[string]any{"poll": p})
}
