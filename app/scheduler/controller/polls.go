package controller

import (
	"net/http"
	"time"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type createPollRequest struct {
	GroupID  string           `json:"groupId"`
	Title    string           `json:"title"`
	Deadline *time.Time       `json:"deadline,omitempty"`
	Options  []poll.NewOption `json:"options"`
}

// HandleCreatePoll creates a poll with all its options in one step.
func (c *Controller) HandleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var in createPollRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	created, err := c.App.Service.CreatePoll(r.Context(), poll.NewPoll{
		GroupID:  in.GroupID,
		Title:    in.Title,
		Deadline: in.Deadline,
		Options:  in.Options,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleGetPoll returns the poll, options, tally and the caller's own choices.
func (c *Controller) HandleGetPoll(w http.ResponseWriter, r *http.Request) {
	userID, _ := caller(r)
	view, err := c.App.Service.View(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
