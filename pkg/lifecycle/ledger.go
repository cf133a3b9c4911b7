package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger validates vote batches and upserts them in one transaction. It does not check
// whether the poll accepts votes; callers gate on status and deadline first.
type Ledger struct {
	Store  db.PollStore
	Clock  Clock
	Logger *zap.Logger
}

// Normalize keeps only the first entry per option, then drops it when the option ID is
// malformed or the choice is out of range.
func Normalize(entries []poll.VoteEntry) []poll.VoteEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]poll.VoteEntry, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.OptionID)
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := uuid.Parse(id); err != nil || !e.Choice.Valid() {
			continue
		}
		out = append(out, poll.VoteEntry{OptionID: id, Choice: e.Choice})
	}
	return out
}

// Submit records userID's choices and returns how many entries were written. A batch with no
// valid entry writes nothing and is not an error. An entry naming an option of another poll
// fails the batch with db.ErrOptionNotFound.
func (l *Ledger) Submit(ctx context.Context, pollID, userID, userName string, entries []poll.VoteEntry) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("missing user: %w", poll.ErrInvalidVote)
	}

	valid := Normalize(entries)
	if dropped := len(entries) - len(valid); dropped > 0 && l.Logger != nil {
		l.Logger.Debug("Dropped vote entries",
			zap.String("poll_id", pollID),
			zap.String("user_id", userID),
			zap.Int("dropped", dropped))
	}
	if len(valid) == 0 {
		return 0, nil
	}

	clock := l.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	if err := l.Store.UpsertVotes(ctx, pollID, userID, strings.TrimSpace(userName), valid, clock.Now()); err != nil {
		return 0, err
	}
	return len(valid), nil
}
