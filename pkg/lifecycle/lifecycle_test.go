package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/memory"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/db/storetest"
	"github.com/canopy-network/datepoll/pkg/messaging"
	"github.com/canopy-network/datepoll/pkg/messaging/messagingtest"
	"github.com/canopy-network/datepoll/pkg/quorum"
	"github.com/canopy-network/datepoll/pkg/tally"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type captured struct {
	mu     sync.Mutex
	events []tally.Event
}

func (c *captured) Send(ev tally.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captured) all() []tally.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tally.Event(nil), c.events...)
}

type fixture struct {
	store    *memory.Store
	platform *messagingtest.Recorder
	guard    *MemoryGuard
	bus      *tally.Bus
	svc      *Service
	lc       *Lifecycle
}

func newFixture(t *testing.T, platform *messagingtest.Recorder) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	guard := NewMemoryGuard()
	bus := tally.NewBus(logger)
	lc := &Lifecycle{
		Store: store,
		Quorum: &quorum.Detector{
			Store:    store,
			Resolver: &quorum.Resolver{Platform: platform, BotID: "bot", Timeout: time.Second, Logger: logger},
			Logger:   logger,
		},
		Platform:  platform,
		Publisher: bus,
		Guard:     guard,
		Clock:     fixedClock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)},
		Logger:    logger,
	}
	return &fixture{store: store, platform: platform, guard: guard, bus: bus, svc: NewService(store, lc), lc: lc}
}

func entries(p poll.WithOptions, choices ...poll.Choice) []poll.VoteEntry {
	out := make([]poll.VoteEntry, 0, len(choices))
	for i, c := range choices {
		out = append(out, poll.VoteEntry{OptionID: p.Options[i].ID, Choice: c})
	}
	return out
}

func TestPromptFiresOnceAtHeadcount(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{MemberCount: 2})
	p := storetest.CreateFixture(t, f.store, "01", "02")
	ctx := context.Background()

	_, err := f.svc.CastVotes(ctx, p.Poll.ID, "u1", "Ann", entries(p, poll.ChoiceYes, poll.ChoiceMaybe))
	require.NoError(t, err)
	assert.Equal(t, 0, f.platform.Prompts())

	_, err = f.svc.CastVotes(ctx, p.Poll.ID, "u2", "Bob", entries(p, poll.ChoiceYes, poll.ChoiceNo))
	require.NoError(t, err)
	assert.Equal(t, 1, f.platform.Prompts())

	// further votes after the prompt do not send another one
	_, err = f.svc.CastVotes(ctx, p.Poll.ID, "u2", "Bob", entries(p, poll.ChoiceMaybe, poll.ChoiceNo))
	require.NoError(t, err)
	assert.Equal(t, 1, f.platform.Prompts())

	sent := f.platform.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "g1", sent[0].Target)
	require.Len(t, sent[0].Message.Actions, 2)
	assert.Equal(t, ConfirmAction(p.Poll.ID), sent[0].Message.Actions[0].Data)
	assert.Equal(t, DeclineAction(p.Poll.ID), sent[0].Message.Actions[1].Data)
}

func TestConcurrentVotesPromptAtMostOnce(t *testing.T) {
	const voters = 20
	f := newFixture(t, &messagingtest.Recorder{MemberCount: 1})
	p := storetest.CreateFixture(t, f.store, "01", "02")
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			<-start
			_, err := f.svc.CastVotes(ctx, p.Poll.ID, user, user, entries(p, poll.ChoiceYes, poll.ChoiceYes))
			assert.NoError(t, err)
		}(string(rune('a' + i)))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, f.platform.Prompts())
}

func TestFailedPromptIsRetried(t *testing.T) {
	platform := &messagingtest.Recorder{MemberCount: 1, SendErr: messaging.ErrUnavailable}
	f := newFixture(t, platform)
	p := storetest.CreateFixture(t, f.store, "01")
	ctx := context.Background()

	_, err := f.svc.CastVotes(ctx, p.Poll.ID, "u1", "", entries(p, poll.ChoiceYes))
	require.NoError(t, err)
	prompted, err := f.guard.Prompted(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.False(t, prompted)

	platform.SetSendErr(nil)
	_, err = f.svc.CastVotes(ctx, p.Poll.ID, "u1", "", entries(p, poll.ChoiceMaybe))
	require.NoError(t, err)
	assert.Equal(t, 1, platform.Prompts())
	prompted, err = f.guard.Prompted(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.True(t, prompted)
}

func TestNoPromptWithoutGroupOrWhenNotOpen(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{MemberCount: 1})
	ctx := context.Background()

	noGroup, err := f.store.CreatePoll(ctx, poll.NewPoll{Title: "x", Options: []poll.NewOption{{Label: "a"}}})
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertVotes(ctx, noGroup.Poll.ID, "u1", "", entries(noGroup, poll.ChoiceYes), time.Now()))
	sent, err := f.lc.MaybePromptClose(ctx, noGroup.Poll.ID)
	require.NoError(t, err)
	assert.False(t, sent)

	p := storetest.CreateFixture(t, f.store, "01")
	require.NoError(t, f.store.UpsertVotes(ctx, p.Poll.ID, "u1", "", entries(p, poll.ChoiceYes), time.Now()))
	require.NoError(t, f.store.SetStatus(ctx, p.Poll.ID, poll.StatusClosing))
	sent, err = f.lc.MaybePromptClose(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, f.platform.Prompts())
}

func TestConfirmCloseOffersRankedCandidates(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{})
	p := storetest.CreateFixture(t, f.store, "01", "02", "03")
	ctx := context.Background()
	watcher := &captured{}
	f.bus.Subscribe(p.Poll.ID, watcher)

	require.NoError(t, f.store.UpsertVotes(ctx, p.Poll.ID, "u1", "", entries(p, poll.ChoiceMaybe, poll.ChoiceYes, poll.ChoiceNo), time.Now()))
	require.NoError(t, f.store.UpsertVotes(ctx, p.Poll.ID, "u2", "", entries(p, poll.ChoiceYes, poll.ChoiceYes, poll.ChoiceMaybe), time.Now()))

	got, err := f.lc.ConfirmClose(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusClosing, got.Poll.Status)

	events := watcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, poll.StatusClosing, events[0].Status)

	sent := f.platform.Sent()
	require.Len(t, sent, 1)
	actions := sent[0].Message.Actions
	require.Len(t, actions, 3)
	assert.Equal(t, FinalizeAction(p.Poll.ID, p.Options[1].ID), actions[0].Data)
	assert.Equal(t, FinalizeAction(p.Poll.ID, p.Options[0].ID), actions[1].Data)
	assert.Equal(t, FinalizeAction(p.Poll.ID, p.Options[2].ID), actions[2].Data)

	// a second yes is rejected and sends nothing
	_, err = f.lc.ConfirmClose(ctx, p.Poll.ID)
	assert.ErrorIs(t, err, poll.ErrPollNotOpen)
	assert.Len(t, f.platform.Sent(), 1)
}

// tallyFailingStore fails every tally read.
type tallyFailingStore struct {
	*memory.Store
}

func (s *tallyFailingStore) Tally(context.Context, string) (poll.Tally, error) {
	return nil, errors.New("tally read failed")
}

func TestConfirmCloseSendsCandidatesWhenTallyReadFails(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{})
	p := storetest.CreateFixture(t, f.store, "01", "02")
	ctx := context.Background()
	f.lc.Store = &tallyFailingStore{Store: f.store}

	got, err := f.lc.ConfirmClose(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusClosing, got.Poll.Status)

	stored, err := f.store.GetPoll(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusClosing, stored.Poll.Status)

	// candidates fall back to option order
	sent := f.platform.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Message.Actions, 2)
	assert.Equal(t, FinalizeAction(p.Poll.ID, p.Options[0].ID), sent[0].Message.Actions[0].Data)
	assert.Equal(t, FinalizeAction(p.Poll.ID, p.Options[1].ID), sent[0].Message.Actions[1].Data)
}

func TestDeclineKeepsPollOpenAndSuppressesPrompt(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{MemberCount: 1})
	p := storetest.CreateFixture(t, f.store, "01")
	ctx := context.Background()

	got, err := f.lc.DeclineClose(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusOpen, got.Poll.Status)

	_, err = f.svc.CastVotes(ctx, p.Poll.ID, "u1", "", entries(p, poll.ChoiceYes))
	require.NoError(t, err)
	assert.Equal(t, 0, f.platform.Prompts())

	_, err = f.lc.DeclineClose(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrPollNotFound)
}

func TestFinalize(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{})
	p := storetest.CreateFixture(t, f.store, "01", "02")
	ctx := context.Background()

	_, err := f.lc.Finalize(ctx, p.Poll.ID, p.Options[0].ID)
	assert.ErrorIs(t, err, poll.ErrNotClosing)

	_, err = f.lc.ConfirmClose(ctx, p.Poll.ID)
	require.NoError(t, err)
	_, err = f.lc.Finalize(ctx, p.Poll.ID, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, db.ErrOptionNotFound)

	got, err := f.lc.Finalize(ctx, p.Poll.ID, p.Options[1].ID)
	require.NoError(t, err)
	assert.Equal(t, poll.StatusClosed, got.Poll.Status)
	require.NotNil(t, got.Poll.FinalizedDate)
	assert.Equal(t, "2026-11-02", *got.Poll.FinalizedDate)
	require.NotNil(t, got.Poll.FinalizedOptionID)
	assert.Equal(t, p.Options[1].ID, *got.Poll.FinalizedOptionID)

	sentBefore := len(f.platform.Sent())
	_, err = f.lc.Finalize(ctx, p.Poll.ID, p.Options[0].ID)
	assert.ErrorIs(t, err, poll.ErrAlreadyFinalized)
	assert.Len(t, f.platform.Sent(), sentBefore)

	again, err := f.store.GetPoll(ctx, p.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Options[1].ID, *again.Poll.FinalizedOptionID)
}

func TestFinalizeUsesLabelWithoutDate(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{})
	ctx := context.Background()
	p, err := f.store.CreatePoll(ctx, poll.NewPoll{GroupID: "g1", Title: "lunch", Options: []poll.NewOption{{Label: "Next Friday"}}})
	require.NoError(t, err)
	require.NoError(t, f.store.SetStatus(ctx, p.Poll.ID, poll.StatusClosing))

	got, err := f.lc.Finalize(ctx, p.Poll.ID, p.Options[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Next Friday", *got.Poll.FinalizedDate)
}

func TestConcurrentFinalizeSingleWinner(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{})
	p := storetest.CreateFixture(t, f.store, "01", "02")
	ctx := context.Background()
	require.NoError(t, f.store.SetStatus(ctx, p.Poll.ID, poll.StatusClosing))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.lc.Finalize(ctx, p.Poll.ID, p.Options[i%2].ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, poll.ErrAlreadyFinalized), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, f.platform.Sent(), 1)
}
