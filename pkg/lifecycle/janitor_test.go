package lifecycle

import (
	"context"
	"testing"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/db/storetest"
	"github.com/canopy-network/datepoll/pkg/messaging/messagingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestJanitorSweep(t *testing.T) {
	f := newFixture(t, &messagingtest.Recorder{})
	ctx := context.Background()

	open := storetest.CreateFixture(t, f.store, "01")
	closed := storetest.CreateFixture(t, f.store, "02")
	require.NoError(t, f.store.SetStatus(ctx, closed.Poll.ID, poll.StatusClosed))

	for _, id := range []string{open.Poll.ID, closed.Poll.ID, "gone"} {
		require.NoError(t, f.guard.MarkPrompted(ctx, id))
	}

	j := &Janitor{Store: f.store, Guard: f.guard, Workers: 2, Logger: zaptest.NewLogger(t)}
	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := f.guard.Polls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{open.Poll.ID}, left)
}

func TestJanitorStartRejectsBadSchedule(t *testing.T) {
	j := &Janitor{Schedule: "not a schedule", Logger: zaptest.NewLogger(t)}
	assert.Error(t, j.Start(context.Background()))
	j.Stop()
}

func TestMemoryGuardLockSerializes(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	unlock, err := g.Lock(ctx, "p1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := g.Lock(ctx, "p1")
		assert.NoError(t, err)
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	default:
	}
	unlock()
	<-acquired
}
