// Package tally fans live tally snapshots out to the connections watching a poll.
package tally

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Event is one point-in-time tally of a poll, read after the triggering write committed.
type Event struct {
	PollID string      `json:"pollId"`
	Status poll.Status `json:"status"`
	Tally  poll.Tally  `json:"tally"`
	At     time.Time   `json:"at"`
}

// Subscriber is a live connection. Send must not block; a failed send is skipped and the
// subscriber is expected to deregister itself when its connection closes.
type Subscriber interface {
	Send(Event) error
}

// Publisher is what the lifecycle and vote paths publish through.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type subscribers = xsync.Map[uint64, Subscriber]

// Bus is the in-process subscriber registry.
type Bus struct {
	polls  *xsync.Map[string, *subscribers]
	nextID atomic.Uint64
	logger *zap.Logger
}

var _ Publisher = (*Bus)(nil)

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{polls: xsync.NewMap[string, *subscribers](), logger: logger}
}

// Subscribe registers s under pollID and returns the function that removes it.
func (b *Bus) Subscribe(pollID string, s Subscriber) func() {
	id := b.nextID.Add(1)
	b.polls.Compute(pollID, func(old *subscribers, loaded bool) (*subscribers, xsync.ComputeOp) {
		if !loaded {
			old = xsync.NewMap[uint64, Subscriber]()
		}
		old.Store(id, s)
		return old, xsync.UpdateOp
	})
	return func() { b.unsubscribe(pollID, id) }
}

func (b *Bus) unsubscribe(pollID string, id uint64) {
	b.polls.Compute(pollID, func(old *subscribers, loaded bool) (*subscribers, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		old.Delete(id)
		if old.Size() == 0 {
			return old, xsync.DeleteOp
		}
		return old, xsync.UpdateOp
	})
}

// Publish delivers ev to every subscriber of ev.PollID registered right now.
func (b *Bus) Publish(_ context.Context, ev Event) {
	subs, ok := b.polls.Load(ev.PollID)
	if !ok {
		return
	}
	delivered, skipped := 0, 0
	subs.Range(func(_ uint64, s Subscriber) bool {
		if err := s.Send(ev); err != nil {
			skipped++
			return true
		}
		delivered++
		return true
	})
	b.logger.Debug("Tally published",
		zap.String("poll_id", ev.PollID),
		zap.Int("delivered", delivered),
		zap.Int("skipped", skipped))
}

// Subscribers is the number of live subscribers of pollID.
func (b *Bus) Subscribers(pollID string) int {
	subs, ok := b.polls.Load(pollID)
	if !ok {
		return 0
	}
	return subs.Size()
}
