package quorum

import (
	"context"
	"time"

	"github.com/canopy-network/datepoll/pkg/messaging"
	"github.com/canopy-network/datepoll/pkg/utils"
	"go.uber.org/zap"
)

// Kind tags which membership view a MembershipInfo carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindCount
	KindIDs
)

func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindIDs:
		return "ids"
	}
	return "unknown"
}

// MembershipInfo is what the platform could tell us about a group: a headcount, an explicit
// member list with the bot removed, or nothing.
type MembershipInfo struct {
	Kind  Kind
	Count int
	IDs   []string
}

func Count(n int) MembershipInfo { return MembershipInfo{Kind: KindCount, Count: n} }
func IDs(ids []string) MembershipInfo { return MembershipInfo{Kind: KindIDs, IDs: ids} }
func Unknown() MembershipInfo { return MembershipInfo{Kind: KindUnknown} }

// Resolver queries the platform for membership, one bounded call at a time.
type Resolver struct {
	Platform messaging.Platform
	BotID    string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Resolve never fails: a timed out or failed lookup falls through to the next view and
// ends at Unknown.
func (r *Resolver) Resolve(ctx context.Context, groupID string) MembershipInfo {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n, err := r.memberCount(ctx, groupID)
	if err == nil && n > 0 {
		return Count(n)
	}
	if err != nil {
		logger.Warn("Member count unavailable", zap.String("group_id", groupID), zap.Error(err))
	}

	ids, err := r.memberIDs(ctx, groupID)
	if err != nil {
		logger.Warn("Member list unavailable", zap.String("group_id", groupID), zap.Error(err))
		return Unknown()
	}
	if r.BotID != "" {
		ids = utils.Without(ids, r.BotID)
	}
	return IDs(utils.Dedup(ids))
}

func (r *Resolver) memberCount(ctx context.Context, groupID string) (int, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	return r.Platform.GetMemberCount(ctx, groupID)
}

func (r *Resolver) memberIDs(ctx context.Context, groupID string) ([]string, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	return r.Platform.GetMemberIDs(ctx, groupID)
}

func (r *Resolver) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
