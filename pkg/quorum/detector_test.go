package quorum

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/datepoll/pkg/db/memory"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/db/storetest"
	"github.com/canopy-network/datepoll/pkg/messaging"
	"github.com/canopy-network/datepoll/pkg/messaging/messagingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func vote(t *testing.T, s *memory.Store, p poll.WithOptions, user string, choices ...poll.Choice) {
	t.Helper()
	entries := make([]poll.VoteEntry, 0, len(choices))
	for i, c := range choices {
		entries = append(entries, poll.VoteEntry{OptionID: p.Options[i].ID, Choice: c})
	}
	require.NoError(t, s.UpsertVotes(context.Background(), p.Poll.ID, user, user, entries, time.Now()))
}

func newDetector(t *testing.T, platform messaging.Platform) (*Detector, *memory.Store) {
	s := memory.NewStore()
	logger := zaptest.NewLogger(t)
	return &Detector{
		Store:    s,
		Resolver: &Resolver{Platform: platform, BotID: "bot", Timeout: time.Second, Logger: logger},
		Logger:   logger,
	}, s
}

func TestDetectorHeadcount(t *testing.T) {
	platform := &messagingtest.Platform{}
	platform.On("GetMemberCount", mock.Anything, "g1").Return(2, nil)
	d, s := newDetector(t, platform)
	p := storetest.CreateFixture(t, s, "01", "02")
	ctx := context.Background()

	vote(t, s, p, "u1", poll.ChoiceYes, poll.ChoiceMaybe)
	reached, err := d.IsQuorumReached(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.False(t, reached)

	vote(t, s, p, "u2", poll.ChoiceYes, poll.ChoiceNo)
	reached, err = d.IsQuorumReached(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.True(t, reached)

	platform.AssertNotCalled(t, "GetMemberIDs", mock.Anything, mock.Anything)
}

func TestDetectorMemberIDsFilterBot(t *testing.T) {
	platform := &messagingtest.Platform{}
	platform.On("GetMemberCount", mock.Anything, "g1").Return(0, messaging.ErrUnavailable)
	platform.On("GetMemberIDs", mock.Anything, "g1").Return([]string{"u1", "u2", "bot"}, nil)
	d, s := newDetector(t, platform)
	p := storetest.CreateFixture(t, s, "01", "02")
	ctx := context.Background()

	vote(t, s, p, "u1", poll.ChoiceYes, poll.ChoiceYes)
	reached, err := d.IsQuorumReached(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.False(t, reached)

	vote(t, s, p, "u2", poll.ChoiceNo, poll.ChoiceMaybe)
	reached, err = d.IsQuorumReached(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.True(t, reached)
}

func TestDetectorVoterFallback(t *testing.T) {
	platform := &messagingtest.Platform{}
	platform.On("GetMemberCount", mock.Anything, "g1").Return(0, messaging.ErrUnavailable)
	platform.On("GetMemberIDs", mock.Anything, "g1").Return(nil, messaging.ErrUnavailable)
	d, s := newDetector(t, platform)
	p := storetest.CreateFixture(t, s, "01", "02", "03")
	ctx := context.Background()

	vote(t, s, p, "u1", poll.ChoiceYes, poll.ChoiceYes, poll.ChoiceNo)
	reached, err := d.IsQuorumReached(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.False(t, reached)

	vote(t, s, p, "u2", poll.ChoiceYes, poll.ChoiceMaybe, poll.ChoiceNo)
	vote(t, s, p, "u3", poll.ChoiceMaybe, poll.ChoiceMaybe, poll.ChoiceYes)
	reached, err = d.IsQuorumReached(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.True(t, reached)
}

type slowPlatform struct {
	messagingtest.Recorder
}

func (p *slowPlatform) GetMemberCount(ctx context.Context, _ string) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestResolverTimeoutFallsThrough(t *testing.T) {
	platform := &slowPlatform{}
	platform.MemberIDs = []string{"u1", "bot", "u1"}
	r := &Resolver{Platform: platform, BotID: "bot", Timeout: 10 * time.Millisecond, Logger: zaptest.NewLogger(t)}

	start := time.Now()
	m := r.Resolve(context.Background(), "g1")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, KindIDs, m.Kind)
	assert.Equal(t, []string{"u1"}, m.IDs)
}

func TestDetectorUnknownPoll(t *testing.T) {
	d, _ := newDetector(t, &messagingtest.Recorder{})
	_, err := d.IsQuorumReached(context.Background(), "missing")
	assert.Error(t, err)
}
