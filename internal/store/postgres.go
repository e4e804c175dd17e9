package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smsync/internal/model"
)

// PostgresStore is the durable MessageStore. The status merge runs inside a
// single INSERT .. ON CONFLICT statement so concurrent upserts for one
// correlation key serialize in the database, never in application code.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ MessageStore = (*PostgresStore)(nil)

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	correlation_key TEXT NOT NULL UNIQUE,
	correlation_id  TEXT NOT NULL DEFAULT '',
	recipient       TEXT NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	last_event_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_recipient_created_idx
	ON messages (recipient, created_at);
`

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, messagesSchema); err != nil {
		return nil, fmt.Errorf("create messages schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// upsertSQL encodes the same policy as model.Merge: terminal rows are never
// updated, terminal events always win, and non-terminal events older than
// the last applied one are dropped. A conflict whose WHERE clause fails
// returns no row, which callers read as a discard.
const upsertSQL = `
INSERT INTO messages (id, correlation_key, correlation_id, recipient, text, status, created_at, last_event_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (correlation_key) DO UPDATE
SET status = EXCLUDED.status,
    last_event_at = EXCLUDED.last_event_at
WHERE messages.status NOT IN ('SUCCESS', 'FAILED')
  AND (EXCLUDED.status IN ('SUCCESS', 'FAILED')
       OR EXCLUDED.last_event_at >= messages.last_event_at)
RETURNING id, correlation_id, recipient, text, status, created_at, last_event_at, (xmax = 0)
`

func (s *PostgresStore) Upsert(ctx context.Context, ev model.StatusEvent) (model.Message, model.Decision, error) {
	id := "msg-" + uuid.NewString()
	key := ev.CorrelationID
	if key == "" {
		key = id
	}

	var (
		m        model.Message
		status   string
		inserted bool
	)
	err := s.pool.QueryRow(ctx, upsertSQL,
		id, key, ev.CorrelationID, ev.Recipient, ev.Text, string(ev.Status), ev.EventTime.UTC(),
	).Scan(&m.ID, &m.CorrelationID, &m.Recipient, &m.Text, &status, &m.CreatedAt, &m.LastEventAt, &inserted)

	switch {
	case err == nil:
		m.Status = model.Status(status)
		if inserted {
			return m, model.Insert, nil
		}
		return m, model.Apply, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Conflict row exists but the merge predicate rejected the event.
		existing, ferr := s.findByKey(ctx, key)
		if ferr != nil {
			return model.Message{}, model.Discard, ferr
		}
		return existing, model.Discard, nil
	default:
		return model.Message{}, model.Discard, fmt.Errorf("%w: upsert: %v", ErrUnavailable, err)
	}
}

func (s *PostgresStore) findByKey(ctx context.Context, key string) (model.Message, error) {
	var (
		m      model.Message
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, correlation_id, recipient, text, status, created_at, last_event_at
		FROM messages
		WHERE correlation_key = $1
	`, key).Scan(&m.ID, &m.CorrelationID, &m.Recipient, &m.Text, &status, &m.CreatedAt, &m.LastEventAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: find by key: %v", ErrUnavailable, err)
	}
	m.Status = model.Status(status)
	return m, nil
}

func (s *PostgresStore) FindByRecipient(ctx context.Context, recipient string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, correlation_id, recipient, text, status, created_at, last_event_at
		FROM messages
		WHERE recipient = $1
		ORDER BY created_at ASC, id ASC
	`, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: find by recipient: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		var (
			m      model.Message
			status string
		)
		if err := rows.Scan(&m.ID, &m.CorrelationID, &m.Recipient, &m.Text, &status, &m.CreatedAt, &m.LastEventAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrUnavailable, err)
		}
		m.Status = model.Status(status)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteByRecipient(ctx context.Context, recipient string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE recipient = $1`, recipient)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by recipient: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("%w: delete all: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListDistinctRecipients(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT recipient FROM messages ORDER BY recipient`)
	if err != nil {
		return nil, fmt.Errorf("%w: list recipients: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("%w: scan recipient: %v", ErrUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrUnavailable, err)
	}
	return out, nil
}
