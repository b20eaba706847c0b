package sync

import (
	"context"
	"errors"
	"time"

	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
)

var (
	// ErrMissingCursor means an incremental sync was requested for an account
	// that has never completed an initial sync.
	ErrMissingCursor = errors.New("no delta cursor for account")

	// ErrSyncTimeout means the provider's mailbox index did not become ready
	// within the configured number of polling attempts.
	ErrSyncTimeout = errors.New("sync readiness timeout")

	// ErrSyncRunning means a sync for the account is already in flight.
	ErrSyncRunning = errors.New("sync already running")
)

// MailAPI is the slice of the provider client the orchestrator depends on.
type MailAPI interface {
	StartSync(ctx context.Context, cred provider.Credential, daysWithin int) (*provider.SyncStartResponse, error)
	FetchUpdated(ctx context.Context, cred provider.Credential, page provider.Page) (*provider.SyncUpdatedResponse, error)
}

// Store is the persistence surface the sync engine writes through: the delta
// cursor, the reconciliation upserts, and the event outbox.
type Store interface {
	Cursor(ctx context.Context, accountID string) (string, error)
	SaveCursor(ctx context.Context, accountID, cursor string) error
	ApplyMessage(ctx context.Context, accountID string, m store.MessageUpsert, evt *store.OutboxEntry) (bool, error)
	DequeueOutbox(ctx context.Context, limit int) ([]store.OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// EventPublisher delivers outbox events to downstream consumers.
type EventPublisher interface {
	Publish(subject string, payload []byte, msgID string) error
}
