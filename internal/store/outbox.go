package store

import (
	"context"
	"fmt"
	"time"
)

// OutboxMessage is one pending event in the transactional outbox.
type OutboxMessage struct {
	ID      int64  `db:"id"`
	Subject string `db:"subject"`
	Payload []byte `db:"payload"`
	MsgID   string `db:"msg_id"`
}

// DequeueOutbox fetches up to limit unpublished outbox messages that are due.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := s.db.SelectContext(ctx, &messages, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return messages, nil
}

// MarkPublished records that an outbox message was delivered.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkRetry bumps the retry count and schedules the next delivery attempt.
func (s *Store) MarkRetry(ctx context.Context, id int64, backoff time.Duration) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id); err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}
