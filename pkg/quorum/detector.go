package quorum

import (
	"context"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"go.uber.org/zap"
)

// Detector combines store aggregates with the platform's membership view.
type Detector struct {
	Store    db.PollStore
	Resolver *Resolver
	Logger   *zap.Logger
}

// IsQuorumReached loads the poll and evaluates it.
func (d *Detector) IsQuorumReached(ctx context.Context, pollID string) (bool, error) {
	p, err := d.Store.GetPoll(ctx, pollID)
	if err != nil {
		return false, err
	}
	return d.Evaluate(ctx, p)
}

// Evaluate decides quorum for an already loaded poll.
func (d *Detector) Evaluate(ctx context.Context, p poll.WithOptions) (bool, error) {
	if len(p.Options) == 0 {
		return false, nil
	}
	counts, err := d.Store.AnsweredOptionCountsByUser(ctx, p.Poll.ID)
	if err != nil {
		return false, err
	}
	answers := Answers{Options: len(p.Options), Counts: counts}

	membership := d.Resolver.Resolve(ctx, p.Poll.GroupID)
	reached := Decide(membership, answers)
	if d.Logger != nil {
		d.Logger.Debug("Quorum evaluated",
			zap.String("poll_id", p.Poll.ID),
			zap.Stringer("membership", membership.Kind),
			zap.Int("complete", answers.CompleteCount()),
			zap.Int("voters", len(counts)),
			zap.Bool("reached", reached))
	}
	return reached, nil
}
