// Package memory is a process-local PollStore used for single-instance runs and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/google/uuid"
)

type voteKey struct {
	optionID string
	userID   string
}

type pollRecord struct {
	poll    poll.Poll
	options []poll.Option
	votes   map[voteKey]poll.Vote
}

// Store keeps everything under one RWMutex so each method observes a consistent snapshot.
type Store struct {
	mu    sync.RWMutex
	polls map[string]*pollRecord
	now   func() time.Time
}

var _ db.PollStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		polls: make(map[string]*pollRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreatePoll(_ context.Context, in poll.NewPoll) (poll.WithOptions, error) {
	if len(in.Options) == 0 {
		return poll.WithOptions{}, db.ErrNoOptions
	}

	rec := &pollRecord{
		poll: poll.Poll{
			ID:        uuid.NewString(),
			GroupID:   strings.TrimSpace(in.GroupID),
			Title:     in.Title,
			CreatedAt: s.now(),
			Status:    poll.StatusOpen,
			Deadline:  cloneTime(in.Deadline),
		},
		votes: make(map[voteKey]poll.Vote),
	}
	for i, o := range in.Options {
		rec.options = append(rec.options, poll.Option{
			ID:       uuid.NewString(),
			PollID:   rec.poll.ID,
			Label:    o.Label,
			Date:     cloneString(o.Date),
			Position: i,
		})
	}

	s.mu.Lock()
	s.polls[rec.poll.ID] = rec
	out := rec.snapshot()
	s.mu.Unlock()
	return out, nil
}

func (s *Store) GetPoll(_ context.Context, pollID string) (poll.WithOptions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return poll.WithOptions{}, fmt.Errorf("get poll %s: %w", pollID, db.ErrPollNotFound)
	}
	return rec.snapshot(), nil
}

func (s *Store) SetStatus(_ context.Context, pollID string, status poll.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return fmt.Errorf("set status %s: %w", pollID, db.ErrPollNotFound)
	}
	rec.poll.Status = status
	return nil
}

func (s *Store) TransitionStatus(_ context.Context, pollID string, from, to poll.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return false, fmt.Errorf("transition %s: %w", pollID, db.ErrPollNotFound)
	}
	if rec.poll.Status != from {
		return false, nil
	}
	rec.poll.Status = to
	return true, nil
}

func (s *Store) Finalize(_ context.Context, pollID, optionID, finalizedDate string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return false, fmt.Errorf("finalize %s: %w", pollID, db.ErrPollNotFound)
	}
	if !rec.hasOption(optionID) {
		return false, fmt.Errorf("finalize %s option %s: %w", pollID, optionID, db.ErrOptionNotFound)
	}
	if rec.poll.Status != poll.StatusClosing {
		return false, nil
	}
	rec.poll.Status = poll.StatusClosed
	rec.poll.FinalizedDate = &finalizedDate
	rec.poll.FinalizedOptionID = &optionID
	return true, nil
}

func (s *Store) SetDeadline(_ context.Context, pollID string, deadline *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return fmt.Errorf("set deadline %s: %w", pollID, db.ErrPollNotFound)
	}
	rec.poll.Deadline = cloneTime(deadline)
	return nil
}

func (s *Store) UpsertVotes(_ context.Context, pollID, userID, userName string, entries []poll.VoteEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return fmt.Errorf("upsert votes %s: %w", pollID, db.ErrPollNotFound)
	}
	// validate the whole batch before touching anything
	for _, e := range entries {
		if !rec.hasOption(e.OptionID) {
			return fmt.Errorf("upsert votes %s option %s: %w", pollID, e.OptionID, db.ErrOptionNotFound)
		}
	}
	for _, e := range entries {
		rec.votes[voteKey{optionID: e.OptionID, userID: userID}] = poll.Vote{
			PollID:    pollID,
			OptionID:  e.OptionID,
			UserID:    userID,
			UserName:  userName,
			Choice:    e.Choice,
			UpdatedAt: at.UTC(),
		}
	}
	return nil
}

func (s *Store) Tally(_ context.Context, pollID string) (poll.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return nil, fmt.Errorf("tally %s: %w", pollID, db.ErrPollNotFound)
	}
	tally := poll.EmptyTally(rec.options)
	index := make(map[string]int, len(tally))
	for i, t := range tally {
		index[t.OptionID] = i
	}
	for k, v := range rec.votes {
		tally[index[k.optionID]].Add(v.Choice)
	}
	return tally, nil
}

func (s *Store) AnsweredOptionCountsByUser(_ context.Context, pollID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return nil, fmt.Errorf("answered counts %s: %w", pollID, db.ErrPollNotFound)
	}
	out := make(map[string]int)
	for k := range rec.votes {
		out[k.userID]++
	}
	return out, nil
}

func (s *Store) UserChoices(_ context.Context, pollID, userID string) (map[string]poll.Choice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.polls[pollID]
	if !ok {
		return nil, fmt.Errorf("user choices %s: %w", pollID, db.ErrPollNotFound)
	}
	out := make(map[string]poll.Choice)
	for k, v := range rec.votes {
		if k.userID == userID {
			out[k.optionID] = v.Choice
		}
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (r *pollRecord) hasOption(id string) bool {
	for _, o := range r.options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (r *pollRecord) snapshot() poll.WithOptions {
	p := r.poll
	p.Deadline = cloneTime(p.Deadline)
	p.FinalizedDate = cloneString(p.FinalizedDate)
	p.FinalizedOptionID = cloneString(p.FinalizedOptionID)
	options := make([]poll.Option, len(r.options))
	for i, o := range r.options {
		o.Date = cloneString(o.Date)
		options[i] = o
	}
	return poll.WithOptions{Poll: p, Options: options}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
