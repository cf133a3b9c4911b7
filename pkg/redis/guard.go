package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	minLeaseTTL      = 10 * time.Second
	leaseMargin      = 5 * time.Second
	defaultLeasePoll = 25 * time.Millisecond
)

// releaseScript deletes the lease only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LeaseTTL covers one prompt decision: two membership lookups and one send, each bounded by
// collaboratorTimeout, plus store reads.
func LeaseTTL(collaboratorTimeout time.Duration) time.Duration {
	if collaboratorTimeout <= 0 {
		collaboratorTimeout = 3 * time.Second
	}
	return max(3*collaboratorTimeout+leaseMargin, minLeaseTTL)
}

// PromptGuard shares the per-poll prompt lock and "already prompted" flag between instances.
// The lock is a SET NX PX lease; the flag is a plain key without expiry.
type PromptGuard struct {
	client    *redis.Client
	leaseTTL  time.Duration
	leasePoll time.Duration
}

// NewPromptGuard returns a guard whose lease outlives a full prompt decision made with
// collaboratorTimeout. The lease is renewed while held; a holder that dies releases it on expiry.
func NewPromptGuard(c *Client, collaboratorTimeout time.Duration) *PromptGuard {
	return &PromptGuard{client: c.client, leaseTTL: LeaseTTL(collaboratorTimeout), leasePoll: defaultLeasePoll}
}

func lockKey(pollID string) string { return fmt.Sprintf("%s:%s:prompt:lock", KeyPrefix, pollID) }
func promptedKey(pollID string) string { return fmt.Sprintf("%s:%s:prompted", KeyPrefix, pollID) }

// Lock blocks until the lease is acquired or ctx is done.
func (g *PromptGuard) Lock(ctx context.Context, pollID string) (func(), error) {
	key := lockKey(pollID)
	token := uuid.NewString()
	for {
		ok, err := g.client.SetNX(ctx, key, token, g.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire prompt lease: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.leasePoll):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.renew(key, token, stop, done)

	return sync.OnceFunc(func() {
		close(stop)
		<-done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err()
	}), nil
}

// renew pushes the lease expiry forward every third of its TTL until stop is closed or the
// lease is no longer ours.
func (g *PromptGuard) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.leaseTTL/3)
			n, err := renewScript.Run(ctx, g.client, []string{key}, token, g.leaseTTL.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (g *PromptGuard) Prompted(ctx context.Context, pollID string) (bool, error) {
	n, err := g.client.Exists(ctx, promptedKey(pollID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (g *PromptGuard) MarkPrompted(ctx context.Context, pollID string) error {
	return g.client.Set(ctx, promptedKey(pollID), time.Now().UTC().Format(time.RFC3339), 0).Err()
}

func (g *PromptGuard) Forget(ctx context.Context, pollID string) error {
	return g.client.Del(ctx, promptedKey(pollID)).Err()
}

// Polls lists every poll with a prompted flag.
func (g *PromptGuard) Polls(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	pattern := promptedKey("*")
	for {
		keys, next, err := g.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		for _, k := range keys {
			if id := pollIDFromPromptedKey(k); id != "" {
				out = append(out, id)
			}
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func pollIDFromPromptedKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != KeyPrefix || parts[2] != "prompted" {
		return ""
	}
	return parts[1]
}
