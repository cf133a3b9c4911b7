package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Clock tells the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PromptGuard serializes confirmation-prompt decisions per poll and remembers which polls
// were already prompted.
type PromptGuard interface {
	// Lock blocks until the caller holds pollID's prompt lock. The returned func releases it.
	Lock(ctx context.Context, pollID string) (func(), error)
	Prompted(ctx context.Context, pollID string) (bool, error)
	MarkPrompted(ctx context.Context, pollID string) error
	// Forget drops every trace of pollID.
	Forget(ctx context.Context, pollID string) error
	// Polls lists the polls the guard currently tracks.
	Polls(ctx context.Context) ([]string, error)
}

type promptEntry struct {
	mu       sync.Mutex
	prompted bool
}

// MemoryGuard is the single-instance PromptGuard. State is lost on restart.
type MemoryGuard struct {
	entries *xsync.Map[string, *promptEntry]
}

var _ PromptGuard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{entries: xsync.NewMap[string, *promptEntry]()}
}

func (g *MemoryGuard) entry(pollID string) *promptEntry {
	e, _ := g.entries.LoadOrStore(pollID, &promptEntry{})
	return e
}

func (g *MemoryGuard) Lock(_ context.Context, pollID string) (func(), error) {
	e := g.entry(pollID)
	e.mu.Lock()
	return e.mu.Unlock, nil
}

// Prompted and MarkPrompted are called with the poll's lock held.
func (g *MemoryGuard) Prompted(_ context.Context, pollID string) (bool, error) {
	e, ok := g.entries.Load(pollID)
	return ok && e.prompted, nil
}

func (g *MemoryGuard) MarkPrompted(_ context.Context, pollID string) error {
	g.entry(pollID).prompted = true
	return nil
}

func (g *MemoryGuard) Forget(_ context.Context, pollID string) error {
	g.entries.Delete(pollID)
	return nil
}

func (g *MemoryGuard) Polls(context.Context) ([]string, error) {
	out := make([]string, 0, g.entries.Size())
	g.entries.Range(func(id string, _ *promptEntry) bool {
		out = append(out, id)
		return true
	})
	return out, nil
}
