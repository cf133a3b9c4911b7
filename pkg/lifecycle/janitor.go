package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor periodically forgets prompt state of polls that are closed or gone, bounding the
// guard's growth.
type Janitor struct {
	Store    db.PollStore
	Guard    PromptGuard
	Schedule string
	Workers  int
	Logger   *zap.Logger

	cron *cron.Cron
}

// Start schedules Sweep. Each run is bounded to one minute.
func (j *Janitor) Start(ctx context.Context) error {
	schedule := j.Schedule
	if schedule == "" {
		schedule = "@every 10m"
	}
	j.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := j.cron.AddFunc(schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := j.Sweep(rctx); err != nil {
			j.Logger.Warn("Janitor sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.Logger.Info("Janitor started", zap.String("schedule", schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep checks every tracked poll in parallel and returns how many were forgotten.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	ids, err := j.Guard.Polls(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	workers := j.Workers
	if workers <= 0 {
		workers = 8
	}
	pool := pond.NewPool(workers, pond.WithQueueSize(max(len(ids), 16)))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var forgotten atomic.Int32
	for _, id := range ids {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			p, err := j.Store.GetPoll(groupCtx, id)
			switch {
			case errors.Is(err, db.ErrPollNotFound):
			case err != nil:
				j.Logger.Warn("Janitor could not load poll", zap.String("poll_id", id), zap.Error(err))
				return
			case p.Poll.Status != poll.StatusClosed:
				return
			}
			if err := j.Guard.Forget(groupCtx, id); err != nil {
				j.Logger.Warn("Janitor could not forget poll", zap.String("poll_id", id), zap.Error(err))
				return
			}
			forgotten.Add(1)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return int(forgotten.Load()), err
	}

	n := int(forgotten.Load())
	j.Logger.Debug("Janitor sweep done", zap.Int("tracked", len(ids)), zap.Int("forgotten", n))
	return n, nil
}
