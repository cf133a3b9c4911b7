// Package storetest holds the behavioural suite every PollStore implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store; the suite closes it.
type Factory func(t *testing.T) db.PollStore

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s db.PollStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateRequiresOptions", testCreateRequiresOptions},
		{"UnknownPoll", testUnknownPoll},
		{"StatusTransitions", testStatusTransitions},
		{"Finalize", testFinalize},
		{"Deadline", testDeadline},
		{"UpsertOverwrites", testUpsertOverwrites},
		{"UpsertUnknownOptionIsAtomic", testUpsertUnknownOptionIsAtomic},
		{"TallyConservation", testTallyConservation},
		{"AnsweredCounts", testAnsweredCounts},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

func strPtr(s string) *string { return &s }

// CreateFixture creates a poll in group "g1" with one option per label.
func CreateFixture(t *testing.T, s db.PollStore, labels ...string) poll.WithOptions {
	t.Helper()
	opts := make([]poll.NewOption, 0, len(labels))
	for _, l := range labels {
		opts = append(opts, poll.NewOption{Label: l, Date: strPtr("2026-11-" + l)})
	}
	created, err := s.CreatePoll(context.Background(), poll.NewPoll{GroupID: "g1", Title: "dinner", Options: opts})
	require.NoError(t, err)
	return created
}

func testCreateAndGet(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	created := CreateFixture(t, s, "01", "02", "03")

	assert.NotEmpty(t, created.Poll.ID)
	assert.Equal(t, poll.StatusOpen, created.Poll.Status)
	require.Len(t, created.Options, 3)

	got, err := s.GetPoll(ctx, created.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Poll.ID, got.Poll.ID)
	assert.Equal(t, "g1", got.Poll.GroupID)
	assert.Equal(t, "dinner", got.Poll.Title)
	assert.Nil(t, got.Poll.Deadline)
	assert.Nil(t, got.Poll.FinalizedDate)
	require.Len(t, got.Options, 3)
	for i, o := range got.Options {
		assert.Equal(t, created.Options[i].ID, o.ID)
		assert.Equal(t, created.Poll.ID, o.PollID)
		assert.Equal(t, i, o.Position)
		_, err := uuid.Parse(o.ID)
		assert.NoError(t, err, "option ids are uuids")
	}
	require.NotNil(t, got.Options[1].Date)
	assert.Equal(t, "2026-11-02", *got.Options[1].Date)
}

func testCreateRequiresOptions(t *testing.T, s db.PollStore) {
	_, err := s.CreatePoll(context.Background(), poll.NewPoll{GroupID: "g1", Title: "empty"})
	require.ErrorIs(t, err, db.ErrNoOptions)
}

func testUnknownPoll(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := s.GetPoll(ctx, missing)
	assert.ErrorIs(t, err, db.ErrPollNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, missing, poll.StatusClosing), db.ErrPollNotFound)
	assert.ErrorIs(t, s.SetDeadline(ctx, missing, nil), db.ErrPollNotFound)
	_, err = s.Tally(ctx, missing)
	assert.ErrorIs(t, err, db.ErrPollNotFound)
	_, err = s.AnsweredOptionCountsByUser(ctx, missing)
	assert.ErrorIs(t, err, db.ErrPollNotFound)
	err = s.UpsertVotes(ctx, missing, "u1", "", []poll.VoteEntry{{OptionID: uuid.NewString(), Choice: poll.ChoiceYes}}, time.Now())
	assert.ErrorIs(t, err, db.ErrPollNotFound)
}

func testStatusTransitions(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01")

	ok, err := s.TransitionStatus(ctx, p.Poll.ID, poll.StatusClosing, poll.StatusClosed)
	require.NoError(t, err)
	assert.False(t, ok, "poll is open, not closing")

	ok, err = s.TransitionStatus(ctx, p.Poll.ID, poll.StatusOpen, poll.StatusClosing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionStatus(ctx, p.Poll.ID, poll.StatusOpen, poll.StatusClosing)
	require.NoError(t, err)
	assert.False(t, ok, "second transition loses")

	require.NoError(t, s.SetStatus(ctx, p.Poll.ID, poll.StatusOpen))
	got, err := s.GetPoll(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusOpen, got.Poll.Status)
}

func testFinalize(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01", "02")
	winner := p.Options[1].ID

	ok, err := s.Finalize(ctx, p.Poll.ID, winner, "2026-11-02")
	require.NoError(t, err)
	assert.False(t, ok, "open polls cannot be finalized")

	_, err = s.Finalize(ctx, p.Poll.ID, uuid.NewString(), "x")
	assert.ErrorIs(t, err, db.ErrOptionNotFound)

	require.NoError(t, s.SetStatus(ctx, p.Poll.ID, poll.StatusClosing))
	ok, err = s.Finalize(ctx, p.Poll.ID, winner, "2026-11-02")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Finalize(ctx, p.Poll.ID, p.Options[0].ID, "2026-11-01")
	require.NoError(t, err)
	assert.False(t, ok, "closed is terminal")

	got, err := s.GetPoll(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusClosed, got.Poll.Status)
	require.NotNil(t, got.Poll.FinalizedDate)
	assert.Equal(t, "2026-11-02", *got.Poll.FinalizedDate)
	require.NotNil(t, got.Poll.FinalizedOptionID)
	assert.Equal(t, winner, *got.Poll.FinalizedOptionID)
}

func testDeadline(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01")
	deadline := time.Date(2026, 11, 30, 18, 0, 0, 0, time.UTC)

	require.NoError(t, s.SetDeadline(ctx, p.Poll.ID, &deadline))
	got, err := s.GetPoll(ctx, p.Poll.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Poll.Deadline)
	assert.True(t, deadline.Equal(*got.Poll.Deadline))

	require.NoError(t, s.SetDeadline(ctx, p.Poll.ID, nil))
	got, err = s.GetPoll(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Poll.Deadline)
}

func testUpsertOverwrites(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01", "02")
	a, b := p.Options[0].ID, p.Options[1].ID
	now := time.Now()

	batch := []poll.VoteEntry{{OptionID: a, Choice: poll.ChoiceYes}, {OptionID: b, Choice: poll.ChoiceMaybe}}
	require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, "u1", "Ann", batch, now))
	first, err := s.Tally(ctx, p.Poll.ID)
	require.NoError(t, err)

	require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, "u1", "Ann", batch, now))
	second, err := s.Tally(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same batch twice yields the same tally")

	require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, "u1", "Ann", []poll.VoteEntry{{OptionID: a, Choice: poll.ChoiceNo}}, now))
	tally, err := s.Tally(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, tally[0].Yes)
	assert.Equal(t, 1, tally[0].No)
	assert.Equal(t, 1, tally[1].Maybe)

	choices, err := s.UserChoices(ctx, p.Poll.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]poll.Choice{a: poll.ChoiceNo, b: poll.ChoiceMaybe}, choices)

	none, err := s.UserChoices(ctx, p.Poll.ID, "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUpsertUnknownOptionIsAtomic(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01")
	other := CreateFixture(t, s, "09")

	err := s.UpsertVotes(ctx, p.Poll.ID, "u1", "", []poll.VoteEntry{
		{OptionID: p.Options[0].ID, Choice: poll.ChoiceYes},
		{OptionID: other.Options[0].ID, Choice: poll.ChoiceYes},
	}, time.Now())
	require.ErrorIs(t, err, db.ErrOptionNotFound)

	tally, err := s.Tally(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, tally[0].Voters(), "nothing from the failed batch is visible")
}

func testTallyConservation(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01", "02", "03")
	now := time.Now()

	votes := map[string][]poll.VoteEntry{
		"u1": {{OptionID: p.Options[0].ID, Choice: poll.ChoiceYes}, {OptionID: p.Options[1].ID, Choice: poll.ChoiceNo}},
		"u2": {{OptionID: p.Options[0].ID, Choice: poll.ChoiceMaybe}},
		"u3": {{OptionID: p.Options[0].ID, Choice: poll.ChoiceNo}, {OptionID: p.Options[2].ID, Choice: poll.ChoiceYes}},
	}
	for user, entries := range votes {
		require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, user, user, entries, now))
	}

	tally, err := s.Tally(ctx, p.Poll.ID)
	require.NoError(t, err)
	require.Len(t, tally, 3)
	assert.Equal(t, p.Options[0].ID, tally[0].OptionID, "tally follows option order")
	assert.Equal(t, 3, tally[0].Voters())
	assert.Equal(t, 1, tally[1].Voters())
	assert.Equal(t, 1, tally[2].Voters())
	assert.Equal(t, poll.OptionTally{OptionID: p.Options[0].ID, Label: "01", Date: tally[0].Date, Position: 0, Yes: 1, Maybe: 1, No: 1}, tally[0])
}

func testAnsweredCounts(t *testing.T, s db.PollStore) {
	ctx := context.Background()
	p := CreateFixture(t, s, "01", "02")
	now := time.Now()

	counts, err := s.AnsweredOptionCountsByUser(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, "u1", "", []poll.VoteEntry{
		{OptionID: p.Options[0].ID, Choice: poll.ChoiceYes},
		{OptionID: p.Options[1].ID, Choice: poll.ChoiceYes},
	}, now))
	require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, "u2", "", []poll.VoteEntry{
		{OptionID: p.Options[1].ID, Choice: poll.ChoiceNo},
	}, now))
	require.NoError(t, s.UpsertVotes(ctx, p.Poll.ID, "u2", "", []poll.VoteEntry{
		{OptionID: p.Options[1].ID, Choice: poll.ChoiceYes},
	}, now))

	counts, err = s.AnsweredOptionCountsByUser(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 2, "u2": 1}, counts)
}
