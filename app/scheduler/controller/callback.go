package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/lifecycle"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

var errUnknownAction = errors.New("unknown action")

type callbackRequest struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Data     string `json:"data"`
}

// HandleCallback routes a button press relayed by the messaging platform.
//
// Actions:
// - close:{pollId}:yes | close:{pollId}:no
// - finalize:{pollId}:{optionId}
// - vote:{pollId}:{optionId}:{choice}
func (c *Controller) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var in callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}

	result, err := c.dispatch(r.Context(), in)
	if errors.Is(err, errUnknownAction) {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.App.Logger.Info("Callback handled",
		zap.String("group_id", in.GroupID),
		zap.String("user_id", in.UserID),
		zap.String("data", in.Data),
		zap.String("result", result))
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (c *Controller) dispatch(ctx context.Context, in callbackRequest) (string, error) {
	parts := strings.Split(strings.TrimSpace(in.Data), ":")
	svc := c.App.Service
	switch {
	case len(parts) == 3 && parts[0] == "close" && parts[2] == "yes":
		if _, err := svc.Lifecycle.ConfirmClose(ctx, parts[1]); err != nil {
			return "", err
		}
		return "closing", nil

	case len(parts) == 3 && parts[0] == "close" && parts[2] == "no":
		if _, err := svc.Lifecycle.DeclineClose(ctx, parts[1]); err != nil {
			return "", err
		}
		return "declined", nil

	case len(parts) == 3 && parts[0] == "finalize":
		if _, err := svc.Lifecycle.Finalize(ctx, parts[1], parts[2]); err != nil {
			return "", err
		}
		return "finalized", nil

	case len(parts) == 4 && parts[0] == "vote":
		choice, err := strconv.Atoi(parts[3])
		if err != nil {
			return "", fmt.Errorf("%w: bad choice %q", errUnknownAction, parts[3])
		}
		if strings.TrimSpace(in.UserID) == "" {
			return "", fmt.Errorf("missing userId: %w", poll.ErrInvalidVote)
		}
		entries := []poll.VoteEntry{{OptionID: parts[2], Choice: poll.Choice(choice)}}
		if _, err := svc.CastVotes(ctx, parts[1], in.UserID, in.UserName, entries); err != nil {
			return "", err
		}
		if len(lifecycle.Normalize(entries)) == 0 {
			return "ignored", nil
		}
		return "recorded", nil
	}
	return "", fmt.Errorf("%w: %q", errUnknownAction, in.Data)
}
