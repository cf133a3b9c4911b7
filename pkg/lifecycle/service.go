package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"go.uber.org/zap"
)

// View is a poll as seen by one caller.
type View struct {
	Poll          poll.Poll              `json:"poll"`
	Options       []poll.Option          `json:"options"`
	Tally         poll.Tally             `json:"tally"`
	CallerChoices map[string]poll.Choice `json:"callerChoices"`
}

// Service is the entry point for every caller-facing poll operation.
type Service struct {
	Store     db.PollStore
	Ledger    *Ledger
	Lifecycle *Lifecycle
	Clock     Clock
	Logger    *zap.Logger
}

// NewService wires a ledger and lifecycle around the same store, clock and logger.
func NewService(store db.PollStore, lc *Lifecycle) *Service {
	clock := lc.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{
		Store:     store,
		Ledger:    &Ledger{Store: store, Clock: clock, Logger: lc.Logger},
		Lifecycle: lc,
		Clock:     clock,
		Logger:    lc.logger(),
	}
}

// CreatePoll stores a new open poll with its options.
func (s *Service) CreatePoll(ctx context.Context, in poll.NewPoll) (poll.WithOptions, error) {
	in.GroupID = strings.TrimSpace(in.GroupID)
	in.Title = strings.TrimSpace(in.Title)
	if in.GroupID == "" || in.Title == "" {
		return poll.WithOptions{}, fmt.Errorf("group and title are required: %w", poll.ErrInvalidPoll)
	}
	opts := make([]poll.NewOption, 0, len(in.Options))
	for _, o := range in.Options {
		if o.Label = strings.TrimSpace(o.Label); o.Label != "" {
			opts = append(opts, o)
		}
	}
	in.Options = opts
	p, err := s.Store.CreatePoll(ctx, in)
	if err != nil {
		return poll.WithOptions{}, err
	}
	s.Logger.Info("Poll created",
		zap.String("poll_id", p.Poll.ID),
		zap.String("group_id", p.Poll.GroupID),
		zap.Int("options", len(p.Options)))
	return p, nil
}

// View returns the poll, its options, the tally and userID's own choices.
func (s *Service) View(ctx context.Context, pollID, userID string) (View, error) {
	p, err := s.Store.GetPoll(ctx, pollID)
	if err != nil {
		return View{}, err
	}
	t, err := s.Store.Tally(ctx, pollID)
	if err != nil {
		return View{}, err
	}
	choices := map[string]poll.Choice{}
	if userID != "" {
		if choices, err = s.Store.UserChoices(ctx, pollID, userID); err != nil {
			return View{}, err
		}
	}
	return View{Poll: p.Poll, Options: p.Options, Tally: t, CallerChoices: choices}, nil
}

// checkAccepts gates every vote entry point: the poll must be open and not past its deadline.
func (s *Service) checkAccepts(p poll.Poll) error {
	if p.Status != poll.StatusOpen {
		return poll.ErrPollNotOpen
	}
	if !p.AcceptsVotesAt(s.Clock.Now()) {
		return poll.ErrDeadlinePassed
	}
	return nil
}

// CastVotes records a vote batch, publishes the new tally and gives the lifecycle a chance to
// prompt for closing. Prompt failures never fail the vote.
func (s *Service) CastVotes(ctx context.Context, pollID, userID, userName string, entries []poll.VoteEntry) (poll.Tally, error) {
	p, err := s.Store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccepts(p.Poll); err != nil {
		return nil, err
	}

	written, err := s.Ledger.Submit(ctx, pollID, userID, userName, entries)
	if err != nil {
		return nil, err
	}
	if written == 0 {
		return s.Store.Tally(ctx, pollID)
	}

	t, err := s.Lifecycle.PublishTally(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Lifecycle.MaybePromptClose(ctx, pollID); err != nil {
		s.Logger.Warn("Close prompt check failed", zap.String("poll_id", pollID), zap.Error(err))
	}
	return t, nil
}

// SetDeadline sets or, with nil, clears the poll's deadline.
func (s *Service) SetDeadline(ctx context.Context, pollID string, deadline *time.Time) (poll.Poll, error) {
	if deadline != nil {
		d := deadline.UTC()
		deadline = &d
	}
	if err := s.Store.SetDeadline(ctx, pollID, deadline); err != nil {
		return poll.Poll{}, err
	}
	p, err := s.Store.GetPoll(ctx, pollID)
	if err != nil {
		return poll.Poll{}, err
	}
	return p.Poll, nil
}
