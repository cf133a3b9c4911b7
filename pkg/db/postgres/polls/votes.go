package polls

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/jackc/pgx/v5"
)

// UpsertVotes writes the batch in one transaction, overwriting earlier choices.
func (d *DB) UpsertVotes(ctx context.Context, pollID, userID, userName string, entries []poll.VoteEntry, at time.Time) error {
	return d.BeginFunc(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := d.requirePoll(ctx, pollID); err != nil {
			return err
		}

		ids := make([]string, 0, len(entries))
		distinct := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			if _, seen := distinct[e.OptionID]; !seen {
				distinct[e.OptionID] = struct{}{}
				ids = append(ids, e.OptionID)
			}
		}
		var known int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM option WHERE poll_id = $1 AND id = ANY($2)`, pollID, ids,
		).Scan(&known); err != nil {
			return fmt.Errorf("check options: %w", err)
		}
		if known != len(ids) {
			return fmt.Errorf("upsert votes %s: %w", pollID, db.ErrOptionNotFound)
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO vote (poll_id, option_id, user_id, user_name, choice, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (poll_id, option_id, user_id)
				DO UPDATE SET choice = EXCLUDED.choice, user_name = EXCLUDED.user_name, updated_at = EXCLUDED.updated_at
			`, pollID, e.OptionID, userID, userName, int16(e.Choice), at.UTC())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert votes %s: %w", pollID, err)
		}
		return nil
	})
}

// Tally aggregates choices per option. A poll always has options, so no rows means no poll.
func (d *DB) Tally(ctx context.Context, pollID string) (poll.Tally, error) {
	rows, err := d.GetExecutor(ctx).Query(ctx, `
		SELECT o.id, o.label, o.date, o.position,
			COALESCE(SUM(CASE WHEN v.choice = 2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN v.choice = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN v.choice = 0 THEN 1 ELSE 0 END), 0)
		FROM option o
		LEFT JOIN vote v ON v.poll_id = o.poll_id AND v.option_id = o.id
		WHERE o.poll_id = $1
		GROUP BY o.id, o.label, o.date, o.position
		ORDER BY o.position
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("tally %s: %w", pollID, err)
	}
	defer rows.Close()

	var out poll.Tally
	for rows.Next() {
		var t poll.OptionTally
		if err := rows.Scan(&t.OptionID, &t.Label, &t.Date, &t.Position, &t.Yes, &t.Maybe, &t.No); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tally %s: %w", pollID, db.ErrPollNotFound)
	}
	return out, nil
}

func (d *DB) AnsweredOptionCountsByUser(ctx context.Context, pollID string) (map[string]int, error) {
	if err := d.requirePoll(ctx, pollID); err != nil {
		return nil, err
	}
	rows, err := d.GetExecutor(ctx).Query(ctx,
		`SELECT user_id, COUNT(*) FROM vote WHERE poll_id = $1 GROUP BY user_id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("answered counts %s: %w", pollID, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return nil, fmt.Errorf("scan answered count: %w", err)
		}
		out[user] = n
	}
	return out, rows.Err()
}

func (d *DB) UserChoices(ctx context.Context, pollID, userID string) (map[string]poll.Choice, error) {
	if err := d.requirePoll(ctx, pollID); err != nil {
		return nil, err
	}
	rows, err := d.GetExecutor(ctx).Query(ctx,
		`SELECT option_id, choice FROM vote WHERE poll_id = $1 AND user_id = $2`, pollID, userID)
	if err != nil {
		return nil, fmt.Errorf("user choices %s: %w", pollID, err)
	}
	defer rows.Close()

	out := make(map[string]poll.Choice)
	for rows.Next() {
		var optionID string
		var choice int16
		if err := rows.Scan(&optionID, &choice); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		out[optionID] = poll.Choice(choice)
	}
	return out, rows.Err()
}
