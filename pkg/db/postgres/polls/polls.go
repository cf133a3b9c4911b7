package polls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/db/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreatePoll inserts the poll and all of its options in one transaction.
func (d *DB) CreatePoll(ctx context.Context, in poll.NewPoll) (poll.WithOptions, error) {
	if len(in.Options) == 0 {
		return poll.WithOptions{}, db.ErrNoOptions
	}

	out := poll.WithOptions{
		Poll: poll.Poll{
			ID:        uuid.NewString(),
			GroupID:   strings.TrimSpace(in.GroupID),
			Title:     in.Title,
			CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
			Status:    poll.StatusOpen,
			Deadline:  in.Deadline,
		},
	}
	for i, o := range in.Options {
		out.Options = append(out.Options, poll.Option{
			ID:       uuid.NewString(),
			PollID:   out.Poll.ID,
			Label:    o.Label,
			Date:     o.Date,
			Position: i,
		})
	}

	err := d.BeginFunc(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO poll (id, group_id, title, created_at, status, deadline)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, out.Poll.ID, out.Poll.GroupID, out.Poll.Title, out.Poll.CreatedAt, string(out.Poll.Status), out.Poll.Deadline)
		if err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}

		batch := &pgx.Batch{}
		for _, o := range out.Options {
			batch.Queue(`INSERT INTO option (id, poll_id, label, date, position) VALUES ($1, $2, $3, $4, $5)`,
				o.ID, o.PollID, o.Label, o.Date, o.Position)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert options: %w", err)
		}
		return nil
	})
	if err != nil {
		return poll.WithOptions{}, fmt.Errorf("create poll: %w", err)
	}
	return out, nil
}

// GetPoll reads the poll row and its options.
func (d *DB) GetPoll(ctx context.Context, pollID string) (poll.WithOptions, error) {
	var out poll.WithOptions
	var status string
	err := d.QueryRow(ctx, `
		SELECT id, group_id, title, created_at, status, deadline, finalized_date, finalized_option_id
		FROM poll
		WHERE id = $1
	`, pollID).Scan(
		&out.Poll.ID,
		&out.Poll.GroupID,
		&out.Poll.Title,
		&out.Poll.CreatedAt,
		&status,
		&out.Poll.Deadline,
		&out.Poll.FinalizedDate,
		&out.Poll.FinalizedOptionID,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return poll.WithOptions{}, fmt.Errorf("get poll %s: %w", pollID, db.ErrPollNotFound)
		}
		return poll.WithOptions{}, fmt.Errorf("failed to query poll %s: %w", pollID, err)
	}
	out.Poll.Status = poll.Status(status)

	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT id, poll_id, label, date, position
		FROM option
		WHERE poll_id = $1
		ORDER BY position
	`, pollID)
	if err != nil {
		return poll.WithOptions{}, fmt.Errorf("failed to query options of %s: %w", pollID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var o poll.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Label, &o.Date, &o.Position); err != nil {
			return poll.WithOptions{}, fmt.Errorf("scan option: %w", err)
		}
		out.Options = append(out.Options, o)
	}
	if err := rows.Err(); err != nil {
		return poll.WithOptions{}, err
	}
	return out, nil
}

func (d *DB) SetStatus(ctx context.Context, pollID string, status poll.Status) error {
	tag, err := d.GetExecutor(ctx).Exec(ctx, `UPDATE poll SET status = $2 WHERE id = $1`, pollID, string(status))
	if err != nil {
		return fmt.Errorf("set status %s: %w", pollID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status %s: %w", pollID, db.ErrPollNotFound)
	}
	return nil
}

// TransitionStatus is a compare-and-set on the status column.
func (d *DB) TransitionStatus(ctx context.Context, pollID string, from, to poll.Status) (bool, error) {
	tag, err := d.GetExecutor(ctx).Exec(ctx,
		`UPDATE poll SET status = $3 WHERE id = $1 AND status = $2`, pollID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", pollID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := d.requirePoll(ctx, pollID); err != nil {
		return false, err
	}
	return false, nil
}

// Finalize closes a closing poll in one statement so concurrent finalize attempts cannot both win.
func (d *DB) Finalize(ctx context.Context, pollID, optionID, finalizedDate string) (bool, error) {
	var won bool
	err := d.BeginFunc(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := d.requireOption(ctx, pollID, optionID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE poll
			SET status = 'closed', finalized_date = $3, finalized_option_id = $2
			WHERE id = $1 AND status = 'closing'
		`, pollID, optionID, finalizedDate)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", pollID, err)
		}
		won = tag.RowsAffected() == 1
		return nil
	})
	return won, err
}

func (d *DB) SetDeadline(ctx context.Context, pollID string, deadline *time.Time) error {
	tag, err := d.GetExecutor(ctx).Exec(ctx, `UPDATE poll SET deadline = $2 WHERE id = $1`, pollID, deadline)
	if err != nil {
		return fmt.Errorf("set deadline %s: %w", pollID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set deadline %s: %w", pollID, db.ErrPollNotFound)
	}
	return nil
}

func (d *DB) requirePoll(ctx context.Context, pollID string) error {
	var exists bool
	if err := d.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM poll WHERE id = $1)`, pollID).Scan(&exists); err != nil {
		return fmt.Errorf("check poll %s: %w", pollID, err)
	}
	if !exists {
		return fmt.Errorf("poll %s: %w", pollID, db.ErrPollNotFound)
	}
	return nil
}

func (d *DB) requireOption(ctx context.Context, pollID, optionID string) error {
	if err := d.requirePoll(ctx, pollID); err != nil {
		return err
	}
	var exists bool
	err := d.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM option WHERE id = $2 AND poll_id = $1)`, pollID, optionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check option %s: %w", optionID, err)
	}
	if !exists {
		return fmt.Errorf("poll %s option %s: %w", pollID, optionID, db.ErrOptionNotFound)
	}
	return nil
}
