package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Writer appends notification events to the outbox inside the caller's
// transaction, so the event commits or rolls back with the business state.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue records one notification for the recipient. Self-notification is
// suppressed: when the actor is also the recipient the row is not written.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, event Event) error {
	if event.RecipientID == "" {
		return fmt.Errorf("notify: missing recipient id")
	}
	if event.ActorID != "" && event.ActorID == event.RecipientID {
		return nil
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	var actor any
	if event.ActorID != "" {
		actor = event.ActorID
	}

	const insertSQL = `
		INSERT INTO notifications (type, recipient_id, actor_id, payload)
		VALUES ($1::notification_type, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, event.Type, event.RecipientID, actor, body); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// Store reads and settles outbox rows for the dispatcher.
type Store interface {
	ListPending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, maxAttempts int) error
}

// PGStore implements Store against the notifications table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) ListPending(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, type::text, recipient_id, actor_id, payload, attempts, created_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY id
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Type, &m.RecipientID, &m.ActorID, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan pending: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate pending: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkSent(ctx context.Context, id int64) error {
	const query = `
		UPDATE notifications
		SET status = 'sent', sent_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("notify: mark sent: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and parks the row once maxAttempts is
// reached. Delivery stays best-effort: a parked row is never surfaced to the
// business caller.
func (s *PGStore) MarkFailed(ctx context.Context, id int64, maxAttempts int) error {
	const query = `
		UPDATE notifications
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, maxAttempts); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
