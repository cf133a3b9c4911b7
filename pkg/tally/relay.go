package tally

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/datepoll/pkg/retry"
	"github.com/go-jose/go-jose/v4/json"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPattern = "datepoll:*:tally"

// RelayClient is the part of the redis client the relay needs.
type RelayClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	PSubscribe(ctx context.Context, patterns ...string) *goredis.PubSub
}

// Relay publishes events through redis so that every instance's local Bus sees them.
type Relay struct {
	client RelayClient
	local  *Bus
	logger *zap.Logger
}

var _ Publisher = (*Relay)(nil)

func NewRelay(client RelayClient, local *Bus, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, local: local, logger: logger}
}

// ChannelFor is the redis channel carrying pollID's events.
func ChannelFor(pollID string) string {
	return fmt.Sprintf("datepoll:%s:tally", pollID)
}

// PollIDFromChannel extracts the poll ID from a channel name, or "" when it does not match.
func PollIDFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "datepoll" || parts[2] != "tally" {
		return ""
	}
	return parts[1]
}

// Publish sends ev to redis. When redis is unreachable the event still reaches this instance's
// subscribers.
func (r *Relay) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("Failed to encode tally event", zap.String("poll_id", ev.PollID), zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, ChannelFor(ev.PollID), payload); err != nil {
		r.local.Publish(ctx, ev)
	}
}

// Run forwards redis events to the local bus until ctx is done, resubscribing with
// exponential backoff and jitter whenever the subscription drops.
func (r *Relay) Run(ctx context.Context) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1
	)

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := r.subscribeOnce(ctx, attempt)
		if ctx.Err() != nil {
			r.logger.Info("Tally relay stopped")
			return
		}
		if err == nil {
			// a subscription that had been healthy restarts the backoff
			backoff = initialBackoff
		}
		r.logger.Warn("Tally relay subscription ended, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = retry.NextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

func (r *Relay) subscribeOnce(ctx context.Context, attempt int) error {
	pubsub := r.client.PSubscribe(ctx, channelPattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Debug("Error closing Redis subscription", zap.Error(err))
		}
	}()

	receiveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}
	r.logger.Info("Tally relay subscribed", zap.String("pattern", channelPattern), zap.Int("attempt", attempt))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, channel, payload string) {
	pollID := PollIDFromChannel(channel)
	if pollID == "" {
		r.logger.Warn("Unexpected tally channel", zap.String("channel", channel))
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Error("Failed to parse tally event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if ev.PollID != pollID {
		r.logger.Warn("Tally event poll mismatch", zap.String("channel", channel), zap.String("poll_id", ev.PollID))
		return
	}
	r.local.Publish(ctx, ev)
}
