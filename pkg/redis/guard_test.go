package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPollIDFromPromptedKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{key: "datepoll:abc:prompted", expected: "abc"},
		{key: promptedKey("p-1"), expected: "p-1"},
		{key: "datepoll:abc:prompt:lock", expected: ""},
		{key: "other:abc:prompted", expected: ""},
		{key: "", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, pollIDFromPromptedKey(tt.key))
		})
	}
}

func TestLeaseTTLOutlivesPromptDecision(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "default timeout", timeout: 0, want: 14 * time.Second},
		{name: "short timeout keeps the floor", timeout: time.Second, want: 10 * time.Second},
		{name: "long timeout", timeout: 5 * time.Second, want: 20 * time.Second},
		{name: "very long timeout", timeout: 30 * time.Second, want: 95 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LeaseTTL(tt.timeout)
			assert.Equal(t, tt.want, got)
			if tt.timeout > 0 {
				// two membership lookups plus one send
				assert.Greater(t, got, 3*tt.timeout)
			}
		})
	}

	g := NewPromptGuard(&Client{}, 5*time.Second)
	assert.Equal(t, 20*time.Second, g.leaseTTL)
}

// TestPromptGuardLeaseRenewedLive holds the lease past its TTL and checks a second holder
// still waits.
func TestPromptGuardLeaseRenewedLive(t *testing.T) {
	host := os.Getenv("REDIS_TEST_HOST")
	if host == "" {
		t.Skip("REDIS_TEST_HOST not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, zaptest.NewLogger(t), Config{Host: host, Port: "6379"})
	require.NoError(t, err)
	defer c.Close()

	g := NewPromptGuard(c, 0)
	g.leaseTTL = 300 * time.Millisecond
	pollID := uuid.NewString()

	unlock, err := g.Lock(ctx, pollID)
	require.NoError(t, err)
	time.Sleep(3 * g.leaseTTL)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = g.Lock(waitCtx, pollID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	again, err := g.Lock(ctx, pollID)
	require.NoError(t, err)
	again()
}

// TestPromptGuardLive runs against a real server when REDIS_TEST_HOST is set.
func TestPromptGuardLive(t *testing.T) {
	host := os.Getenv("REDIS_TEST_HOST")
	if host == "" {
		t.Skip("REDIS_TEST_HOST not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, zaptest.NewLogger(t), Config{Host: host, Port: "6379"})
	require.NoError(t, err)
	defer c.Close()

	g := NewPromptGuard(c, time.Second)
	pollID := uuid.NewString()

	unlock, err := g.Lock(ctx, pollID)
	require.NoError(t, err)

	// a second holder waits for the first
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = g.Lock(waitCtx, pollID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	unlock()

	prompted, err := g.Prompted(ctx, pollID)
	require.NoError(t, err)
	assert.False(t, prompted)

	require.NoError(t, g.MarkPrompted(ctx, pollID))
	polls, err := g.Polls(ctx)
	require.NoError(t, err)
	assert.Contains(t, polls, pollID)

	require.NoError(t, g.Forget(ctx, pollID))
	prompted, err = g.Prompted(ctx, pollID)
	require.NoError(t, err)
	assert.False(t, prompted)
}
