// Package sqlite is a single-file PollStore for small deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store implements db.PollStore with SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ db.PollStore = (*Store)(nil)

// Open opens (creating if needed) the database file at path and initializes the schema.
func Open(ctx context.Context, logger *zap.Logger, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection keeps transactions simple
	conn.SetMaxOpenConns(1)

	s := &Store{db: conn, logger: logger}
	if err := s.InitSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("SQLite store ready", zap.String("path", path))
	return s, nil
}

// InitSchema creates the tables when missing.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closing', 'closed')),
    deadline TIMESTAMP,
    finalized_date TEXT,
    finalized_option_id TEXT
);

CREATE TABLE IF NOT EXISTS option (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    label TEXT NOT NULL,
    date TEXT,
    position INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_option_poll_id ON option(poll_id, position);

CREATE TABLE IF NOT EXISTS vote (
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    option_id TEXT NOT NULL REFERENCES option(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    user_name TEXT NOT NULL DEFAULT '',
    choice INTEGER NOT NULL CHECK (choice BETWEEN 0 AND 2),
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (poll_id, option_id, user_id)
);
`

func (s *Store) CreatePoll(ctx context.Context, in poll.NewPoll) (poll.WithOptions, error) {
	if len(in.Options) == 0 {
		return poll.WithOptions{}, db.ErrNoOptions
	}
	out := poll.WithOptions{
		Poll: poll.Poll{
			ID:        uuid.NewString(),
			GroupID:   strings.TrimSpace(in.GroupID),
			Title:     in.Title,
			CreatedAt: time.Now().UTC(),
			Status:    poll.StatusOpen,
		},
	}
	if in.Deadline != nil {
		d := in.Deadline.UTC()
		out.Poll.Deadline = &d
	}
	for i, o := range in.Options {
		out.Options = append(out.Options, poll.Option{ID: uuid.NewString(), PollID: out.Poll.ID, Label: o.Label, Date: o.Date, Position: i})
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO poll (id, group_id, title, created_at, status, deadline) VALUES (?, ?, ?, ?, ?, ?)`,
			out.Poll.ID, out.Poll.GroupID, out.Poll.Title, out.Poll.CreatedAt, string(out.Poll.Status), nullTime(out.Poll.Deadline),
		); err != nil {
			return fmt.Errorf("failed to insert poll: %w", err)
		}
		for _, o := range out.Options {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO option (id, poll_id, label, date, position) VALUES (?, ?, ?, ?, ?)`,
				o.ID, o.PollID, o.Label, nullString(o.Date), o.Position,
			); err != nil {
				return fmt.Errorf("failed to insert option: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return poll.WithOptions{}, err
	}
	return out, nil
}

func (s *Store) GetPoll(ctx context.Context, pollID string) (poll.WithOptions, error) {
	var (
		out               poll.WithOptions
		status            string
		deadline          sql.NullTime
		finalizedDate     sql.NullString
		finalizedOptionID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, title, created_at, status, deadline, finalized_date, finalized_option_id FROM poll WHERE id = ?`,
		pollID,
	).Scan(&out.Poll.ID, &out.Poll.GroupID, &out.Poll.Title, &out.Poll.CreatedAt, &status, &deadline, &finalizedDate, &finalizedOptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return poll.WithOptions{}, fmt.Errorf("get poll %s: %w", pollID, db.ErrPollNotFound)
	}
	if err != nil {
		return poll.WithOptions{}, fmt.Errorf("failed to get poll: %w", err)
	}
	out.Poll.Status = poll.Status(status)
	if deadline.Valid {
		d := deadline.Time.UTC()
		out.Poll.Deadline = &d
	}
	out.Poll.FinalizedDate = stringPtr(finalizedDate)
	out.Poll.FinalizedOptionID = stringPtr(finalizedOptionID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, poll_id, label, date, position FROM option WHERE poll_id = ? ORDER BY position`, pollID)
	if err != nil {
		return poll.WithOptions{}, fmt.Errorf("failed to list options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o poll.Option
		var date sql.NullString
		if err := rows.Scan(&o.ID, &o.PollID, &o.Label, &date, &o.Position); err != nil {
			return poll.WithOptions{}, fmt.Errorf("failed to scan option: %w", err)
		}
		o.Date = stringPtr(date)
		out.Options = append(out.Options, o)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, pollID string, status poll.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE poll SET status = ? WHERE id = ?`, string(status), pollID)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return requireAffected(res, pollID)
}

func (s *Store) TransitionStatus(ctx context.Context, pollID string, from, to poll.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE poll SET status = ? WHERE id = ? AND status = ?`, string(to), pollID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	return false, s.requirePoll(ctx, s.db, pollID)
}

func (s *Store) Finalize(ctx context.Context, pollID, optionID, finalizedDate string) (bool, error) {
	var won bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requirePoll(ctx, tx, pollID); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM option WHERE id = ? AND poll_id = ?`, optionID, pollID).Scan(&n); err != nil {
			return fmt.Errorf("failed to check option: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("poll %s option %s: %w", pollID, optionID, db.ErrOptionNotFound)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE poll SET status = 'closed', finalized_date = ?, finalized_option_id = ? WHERE id = ? AND status = 'closing'`,
			finalizedDate, optionID, pollID)
		if err != nil {
			return fmt.Errorf("failed to finalize: %w", err)
		}
		affected, _ := res.RowsAffected()
		won = affected == 1
		return nil
	})
	return won, err
}

func (s *Store) SetDeadline(ctx context.Context, pollID string, deadline *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE poll SET deadline = ? WHERE id = ?`, nullTime(deadline), pollID)
	if err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	return requireAffected(res, pollID)
}

func (s *Store) UpsertVotes(ctx context.Context, pollID, userID, userName string, entries []poll.VoteEntry, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requirePoll(ctx, tx, pollID); err != nil {
			return err
		}
		for _, e := range entries {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM option WHERE id = ? AND poll_id = ?`, e.OptionID, pollID).Scan(&n); err != nil {
				return fmt.Errorf("failed to check option: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("upsert votes %s option %s: %w", pollID, e.OptionID, db.ErrOptionNotFound)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO vote (poll_id, option_id, user_id, user_name, choice, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (poll_id, option_id, user_id)
				DO UPDATE SET choice = excluded.choice, user_name = excluded.user_name, updated_at = excluded.updated_at`,
				pollID, e.OptionID, userID, userName, int(e.Choice), at.UTC(),
			); err != nil {
				return fmt.Errorf("failed to upsert vote: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Tally(ctx context.Context, pollID string) (poll.Tally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.label, o.date, o.position,
			COALESCE(SUM(CASE WHEN v.choice = 2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN v.choice = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN v.choice = 0 THEN 1 ELSE 0 END), 0)
		FROM option o
		LEFT JOIN vote v ON v.poll_id = o.poll_id AND v.option_id = o.id
		WHERE o.poll_id = ?
		GROUP BY o.id, o.label, o.date, o.position
		ORDER BY o.position`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to tally: %w", err)
	}
	defer rows.Close()

	var out poll.Tally
	for rows.Next() {
		var t poll.OptionTally
		var date sql.NullString
		if err := rows.Scan(&t.OptionID, &t.Label, &date, &t.Position, &t.Yes, &t.Maybe, &t.No); err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		t.Date = stringPtr(date)
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

func (s *Store) AnsweredOptionCountsByUser(ctx context.Context, pollID string) (map[string]int, error) {
	if err := s.requirePoll(ctx, s.db, pollID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, COUNT(*) FROM vote WHERE poll_id = ? GROUP BY user_id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to count answers: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return nil, fmt.Errorf("failed to scan answer count: %w", err)
		}
		out[user] = n
	}
	return out, rows.Err()
}

func (s *Store) UserChoices(ctx context.Context, pollID, userID string) (map[string]poll.Choice, error) {
	if err := s.requirePoll(ctx, s.db, pollID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT option_id, choice FROM vote WHERE poll_id = ? AND user_id = ?`, pollID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list choices: %w", err)
	}
	defer rows.Close()
	out := make(map[string]poll.Choice)
	for rows.Next() {
		var optionID string
		var choice int
		if err := rows.Scan(&optionID, &choice); err != nil {
			return nil, fmt.Errorf("failed to scan choice: %w", err)
		}
		out[optionID] = poll.Choice(choice)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) requirePoll(ctx context.Context, q queryer, pollID string) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM poll WHERE id = ?`, pollID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check poll: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("poll %s: %w", pollID, db.ErrPollNotFound)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, pollID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("poll %s: %w", pollID, db.ErrPollNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
