// Package lifecycle drives a poll through open, closing and closed: vote intake, the
// once-only close confirmation prompt and the final pick.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/messaging"
	"github.com/canopy-network/datepoll/pkg/tally"
	"go.uber.org/zap"
)

// MaxCandidates bounds the ranked list offered for the final pick.
const MaxCandidates = 5

// QuorumChecker decides whether everyone expected has answered every option.
type QuorumChecker interface {
	Evaluate(ctx context.Context, p poll.WithOptions) (bool, error)
}

// Lifecycle owns the poll state machine.
type Lifecycle struct {
	Store       db.PollStore
	Quorum      QuorumChecker
	Platform    messaging.Platform
	Publisher   tally.Publisher
	Guard       PromptGuard
	Clock       Clock
	SendTimeout time.Duration
	Logger      *zap.Logger
}

func (l *Lifecycle) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func (l *Lifecycle) now() time.Time {
	if l.Clock == nil {
		return SystemClock{}.Now()
	}
	return l.Clock.Now()
}

func (l *Lifecycle) sendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := l.SendTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// ConfirmAction and DeclineAction are the callback payloads of the close prompt.
func ConfirmAction(pollID string) string { return fmt.Sprintf("close:%s:yes", pollID) }
func DeclineAction(pollID string) string { return fmt.Sprintf("close:%s:no", pollID) }

// FinalizeAction is the callback payload that picks optionID as the winner.
func FinalizeAction(pollID, optionID string) string {
	return fmt.Sprintf("finalize:%s:%s", pollID, optionID)
}

// MaybePromptClose sends the close confirmation prompt when the poll is open, has options and
// a group, quorum is reached, and no prompt went out before. The whole decision runs under the
// poll's guard lock so concurrent votes produce at most one prompt. The prompted flag is set
// only after a successful send; a failed send is retried by the next vote.
func (l *Lifecycle) MaybePromptClose(ctx context.Context, pollID string) (bool, error) {
	unlock, err := l.Guard.Lock(ctx, pollID)
	if err != nil {
		return false, fmt.Errorf("lock prompt: %w", err)
	}
	defer unlock()

	prompted, err := l.Guard.Prompted(ctx, pollID)
	if err != nil {
		return false, fmt.Errorf("read prompt flag: %w", err)
	}
	if prompted {
		return false, nil
	}

	p, err := l.Store.GetPoll(ctx, pollID)
	if err != nil {
		return false, err
	}
	if p.Poll.Status != poll.StatusOpen || len(p.Options) == 0 || p.Poll.GroupID == "" {
		return false, nil
	}

	reached, err := l.Quorum.Evaluate(ctx, p)
	if err != nil {
		return false, err
	}
	if !reached {
		return false, nil
	}

	sendCtx, cancel := l.sendCtx(ctx)
	defer cancel()
	text := fmt.Sprintf("Everyone has answered %q. Close the poll and pick a date?", p.Poll.Title)
	err = l.Platform.SendConfirmationPrompt(sendCtx, p.Poll.GroupID, text,
		messaging.Action{Label: "Yes, close it", Data: ConfirmAction(pollID)},
		messaging.Action{Label: "Not yet", Data: DeclineAction(pollID)},
	)
	if err != nil {
		l.logger().Warn("Close prompt not delivered, will retry on next vote",
			zap.String("poll_id", pollID),
			zap.Error(err))
		return false, nil
	}

	if err := l.Guard.MarkPrompted(ctx, pollID); err != nil {
		return true, fmt.Errorf("set prompt flag: %w", err)
	}
	l.logger().Info("Close prompt sent", zap.String("poll_id", pollID), zap.String("group_id", p.Poll.GroupID))
	return true, nil
}

// ConfirmClose handles a "yes" to the prompt: open becomes closing and the ranked
// candidates are offered for the final pick.
func (l *Lifecycle) ConfirmClose(ctx context.Context, pollID string) (poll.WithOptions, error) {
	moved, err := l.Store.TransitionStatus(ctx, pollID, poll.StatusOpen, poll.StatusClosing)
	if err != nil {
		return poll.WithOptions{}, err
	}
	p, err := l.Store.GetPoll(ctx, pollID)
	if err != nil {
		return poll.WithOptions{}, err
	}
	if !moved {
		if p.Poll.Status == poll.StatusClosed {
			return p, poll.ErrAlreadyFinalized
		}
		return p, poll.ErrPollNotOpen
	}
	l.markPrompted(ctx, pollID)

	// the transition already happened, so a failed read only degrades the candidate list
	t, err := l.PublishTally(ctx, pollID)
	if err != nil {
		l.logger().Warn("Failed to publish closing tally", zap.String("poll_id", pollID), zap.Error(err))
		if t, err = l.Store.Tally(ctx, pollID); err != nil {
			t = poll.EmptyTally(p.Options)
		}
	}

	sendCtx, cancel := l.sendCtx(ctx)
	defer cancel()
	if err := l.Platform.SendMessage(sendCtx, p.Poll.GroupID, CandidateMessage(p, t)); err != nil {
		l.logger().Warn("Candidate list not delivered", zap.String("poll_id", pollID), zap.Error(err))
	}
	l.logger().Info("Poll closing", zap.String("poll_id", pollID))
	return p, nil
}

// DeclineClose handles a "no" to the prompt. The status is left as it is and the poll is not
// prompted again.
func (l *Lifecycle) DeclineClose(ctx context.Context, pollID string) (poll.WithOptions, error) {
	p, err := l.Store.GetPoll(ctx, pollID)
	if err != nil {
		return poll.WithOptions{}, err
	}
	l.markPrompted(ctx, pollID)
	l.logger().Info("Close declined", zap.String("poll_id", pollID), zap.String("status", string(p.Poll.Status)))
	return p, nil
}

func (l *Lifecycle) markPrompted(ctx context.Context, pollID string) {
	unlock, err := l.Guard.Lock(ctx, pollID)
	if err != nil {
		l.logger().Warn("Failed to lock prompt flag", zap.String("poll_id", pollID), zap.Error(err))
		return
	}
	defer unlock()
	if err := l.Guard.MarkPrompted(ctx, pollID); err != nil {
		l.logger().Warn("Failed to set prompt flag", zap.String("poll_id", pollID), zap.Error(err))
	}
}

// Finalize records optionID as the winner of a closing poll. A poll that is already closed is
// rejected with ErrAlreadyFinalized and nothing is sent.
func (l *Lifecycle) Finalize(ctx context.Context, pollID, optionID string) (poll.WithOptions, error) {
	p, err := l.Store.GetPoll(ctx, pollID)
	if err != nil {
		return poll.WithOptions{}, err
	}
	switch p.Poll.Status {
	case poll.StatusClosed:
		return p, poll.ErrAlreadyFinalized
	case poll.StatusOpen:
		return p, poll.ErrNotClosing
	}
	opt, ok := p.Option(optionID)
	if !ok {
		return p, fmt.Errorf("finalize %s option %s: %w", pollID, optionID, db.ErrOptionNotFound)
	}

	finalized := opt.Label
	if opt.Date != nil && *opt.Date != "" {
		finalized = *opt.Date
	}
	won, err := l.Store.Finalize(ctx, pollID, optionID, finalized)
	if err != nil {
		return p, err
	}
	if !won {
		// lost the race to a concurrent pick
		return p, poll.ErrAlreadyFinalized
	}

	if p, err = l.Store.GetPoll(ctx, pollID); err != nil {
		return poll.WithOptions{}, err
	}
	if _, err := l.PublishTally(ctx, pollID); err != nil {
		l.logger().Warn("Failed to publish final tally", zap.String("poll_id", pollID), zap.Error(err))
	}

	sendCtx, cancel := l.sendCtx(ctx)
	defer cancel()
	msg := messaging.Message{Text: fmt.Sprintf("%q is set for %s.", p.Poll.Title, finalized)}
	if err := l.Platform.SendMessage(sendCtx, p.Poll.GroupID, msg); err != nil {
		l.logger().Warn("Final date not announced", zap.String("poll_id", pollID), zap.Error(err))
	}
	l.logger().Info("Poll finalized",
		zap.String("poll_id", pollID),
		zap.String("option_id", optionID),
		zap.String("finalized_date", finalized))
	return p, nil
}

// PublishTally reads the current tally and status and publishes them.
func (l *Lifecycle) PublishTally(ctx context.Context, pollID string) (poll.Tally, error) {
	// stamped before reading so viewers can order this event against their snapshot
	at := l.now()
	p, err := l.Store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	t, err := l.Store.Tally(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if l.Publisher != nil {
		l.Publisher.Publish(ctx, tally.Event{PollID: pollID, Status: p.Poll.Status, Tally: t, At: at})
	}
	return t, nil
}

// CandidateMessage offers the best ranked options with one finalize action each.
func CandidateMessage(p poll.WithOptions, t poll.Tally) messaging.Message {
	ranked := t.Ranked()
	if len(ranked) > MaxCandidates {
		ranked = ranked[:MaxCandidates]
	}
	msg := messaging.Message{Text: fmt.Sprintf("Pick the final date for %q:", p.Poll.Title)}
	for _, c := range ranked {
		msg.Actions = append(msg.Actions, messaging.Action{
			Label: fmt.Sprintf("%s (yes %d, maybe %d, no %d)", c.Label, c.Yes, c.Maybe, c.No),
			Data:  FinalizeAction(p.Poll.ID, c.OptionID),
		})
	}
	return msg
}

// IsStateError reports whether err rejects a request because of the poll's status or deadline.
func IsStateError(err error) bool {
	return errors.Is(err, poll.ErrPollNotOpen) ||
		errors.Is(err, poll.ErrDeadlinePassed) ||
		errors.Is(err, poll.ErrNotClosing) ||
		errors.Is(err, poll.ErrAlreadyFinalized)
}
