package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoffSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "broken", func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffPermanent(t *testing.T) {
	boom := errors.New("bad dsn")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "parse", func() error {
		calls++
		return Permanent(boom)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastConfig(), zaptest.NewLogger(t), "cancelled", func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		name      string
		current   time.Duration
		max       time.Duration
		jitter    float64
		expectMin time.Duration
		expectMax time.Duration
	}{
		{"doubles", time.Second, 30 * time.Second, 0.1, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{"capped", 20 * time.Second, 30 * time.Second, 0.1, 27 * time.Second, 30 * time.Second},
		{"exact without jitter", 5 * time.Second, 30 * time.Second, 0, 10 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				got := NextBackoff(tt.current, tt.max, 2.0, tt.jitter)
				assert.GreaterOrEqual(t, got, tt.expectMin)
				assert.LessOrEqual(t, got, tt.expectMax)
			}
		})
	}
}
