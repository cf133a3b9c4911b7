package controller

import (
	"net/http"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type castVotesRequest struct {
	Choices []poll.VoteEntry `json:"choices"`
}

// HandleCastVotes records the caller's choices. Entries the ledger cannot use are dropped, an
// empty request is rejected.
func (c *Controller) HandleCastVotes(w http.ResponseWriter, r *http.Request) {
	userID, userName := caller(r)
	if userID == "" {
		writeErrorMessage(w, http.StatusUnauthorized, "missing "+userIDHeader)
		return
	}

	var in castVotesRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	if len(in.Choices) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "choices are required")
		return
	}

	t, err := c.App.Service.CastVotes(r.Context(), mux.Vars(r)["id"], userID, userName, in.Choices)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tally": t})
}
