package poll

import "errors"

// Validation errors.
var (
	ErrInvalidVote = errors.New("invalid vote")
	ErrInvalidPoll = errors.New("invalid poll")
)

// State errors. A request failing with one of these made no change.
var (
	ErrPollNotOpen      = errors.New("poll is not open")
	ErrDeadlinePassed   = errors.New("poll deadline has passed")
	ErrNotClosing       = errors.New("poll is not awaiting a final pick")
	ErrAlreadyFinalized = errors.New("poll is already finalized")
)
