package db

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
)

var (
	ErrPollNotFound   = errors.New("poll not found")
	ErrOptionNotFound = errors.New("option not found")
	ErrNoOptions      = errors.New("poll needs at least one option")
)

// PollStore owns persisted polls, options and votes. Every method is atomic: a poll and its
// options become visible together, and a vote batch commits entirely or not at all.
type PollStore interface {
	// CreatePoll fails with ErrNoOptions when in.Options is empty.
	CreatePoll(ctx context.Context, in poll.NewPoll) (poll.WithOptions, error)
	GetPoll(ctx context.Context, pollID string) (poll.WithOptions, error)
	SetStatus(ctx context.Context, pollID string, status poll.Status) error
	// TransitionStatus moves the poll from -> to and reports false when the poll was not in from.
	TransitionStatus(ctx context.Context, pollID string, from, to poll.Status) (bool, error)
	// Finalize moves a closing poll to closed recording the winning option; false when the poll
	// was not closing.
	Finalize(ctx context.Context, pollID, optionID, finalizedDate string) (bool, error)
	SetDeadline(ctx context.Context, pollID string, deadline *time.Time) error

	// UpsertVotes overwrites the caller's choice for every entry. All entries must reference
	// options of the poll, otherwise ErrOptionNotFound and nothing is written.
	UpsertVotes(ctx context.Context, pollID, userID, userName string, entries []poll.VoteEntry, at time.Time) error
	Tally(ctx context.Context, pollID string) (poll.Tally, error)
	// AnsweredOptionCountsByUser maps every user with at least one vote to the number of
	// options that user answered.
	AnsweredOptionCountsByUser(ctx context.Context, pollID string) (map[string]int, error)
	UserChoices(ctx context.Context, pollID, userID string) (map[string]poll.Choice, error)

	Ping(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err is one of the store's not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPollNotFound) || errors.Is(err, ErrOptionNotFound)
}
