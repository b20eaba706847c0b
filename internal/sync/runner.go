package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
)

// Runner drives sync cycles for one account at a time. It owns the readiness
// polling, pagination, and cursor advancement; record persistence is the
// Reconciler's job. The cursor is written only after reconciliation commits,
// so a failed cycle is retried from the same window.
type Runner struct {
	API        MailAPI
	Store      Store
	Reconciler *Reconciler
	Publisher  EventPublisher
	Log        *logrus.Entry

	WindowDays      int
	PollInterval    time.Duration
	PollMaxAttempts int
}

// InitialSync performs the first full sync of an account: ask the provider to
// index the mailbox window, poll until the index is ready, then page through
// every updated record and reconcile the lot.
func (r *Runner) InitialSync(ctx context.Context, account *store.Account) error {
	cred := provider.Credential(account.Token)

	resp, err := r.API.StartSync(ctx, cred, r.WindowDays)
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	for attempt := 1; !resp.Ready; attempt++ {
		if attempt >= r.PollMaxAttempts {
			return fmt.Errorf("%w: mailbox index not ready after %d attempts", ErrSyncTimeout, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.PollInterval):
		}
		if resp, err = r.API.StartSync(ctx, cred, r.WindowDays); err != nil {
			return fmt.Errorf("start sync: %w", err)
		}
	}

	records, delta, err := r.collectPages(ctx, cred, resp.SyncUpdatedToken)
	if err != nil {
		return err
	}

	r.Log.WithFields(logrus.Fields{
		"account": account.ID,
		"records": len(records),
	}).Info("initial sync fetched")

	return r.commit(ctx, account.ID, records, delta)
}

// IncrementalSync fetches changes since the account's stored cursor. The
// account must have completed an initial sync; otherwise ErrMissingCursor.
func (r *Runner) IncrementalSync(ctx context.Context, account *store.Account) error {
	cursor, err := r.Store.Cursor(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor == "" {
		return fmt.Errorf("account %s: %w", account.ID, ErrMissingCursor)
	}

	cred := provider.Credential(account.Token)

	records, delta, err := r.collectPages(ctx, cred, cursor)
	if err != nil {
		return err
	}

	r.Log.WithFields(logrus.Fields{
		"account": account.ID,
		"records": len(records),
	}).Debug("incremental sync fetched")

	return r.commit(ctx, account.ID, records, delta)
}

// collectPages walks the full result set starting from startToken,
// accumulating records and tracking the latest non-empty next delta token.
// A page without a delta token never clears a previously captured one; if no
// page supplies one, the start token is retained so the cursor cannot
// regress.
func (r *Runner) collectPages(ctx context.Context, cred provider.Credential, startToken string) ([]provider.Message, string, error) {
	delta := startToken

	page, err := r.API.FetchUpdated(ctx, cred, provider.Page{DeltaToken: startToken})
	if err != nil {
		return nil, "", fmt.Errorf("fetch updated: %w", err)
	}

	records := page.Records
	if page.NextDeltaToken != "" {
		delta = page.NextDeltaToken
	}

	for page.NextPageToken != "" {
		if page, err = r.API.FetchUpdated(ctx, cred, provider.Page{PageToken: page.NextPageToken}); err != nil {
			return nil, "", fmt.Errorf("fetch updated page: %w", err)
		}
		records = append(records, page.Records...)
		if page.NextDeltaToken != "" {
			delta = page.NextDeltaToken
		}
	}

	return records, delta, nil
}

// commit reconciles the accumulated records and, only once that has fully
// succeeded, persists the new cursor. Outbox draining happens last; a
// delivery failure there never blocks cursor advancement since the entries
// are durable and retried on the next cycle.
func (r *Runner) commit(ctx context.Context, accountID string, records []provider.Message, delta string) error {
	if err := r.Reconciler.Reconcile(ctx, accountID, records); err != nil {
		return err
	}

	if err := r.Store.SaveCursor(ctx, accountID, delta); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	r.drainOutbox(ctx)
	return nil
}

// drainOutbox publishes pending outbox entries, one batch pass per cycle.
// Failed publishes are rescheduled with backoff and picked up next time.
func (r *Runner) drainOutbox(ctx context.Context) {
	if r.Publisher == nil {
		return
	}

	for {
		messages, err := r.Store.DequeueOutbox(ctx, 100)
		if err != nil {
			r.Log.WithError(err).Warn("dequeue outbox")
			return
		}
		if len(messages) == 0 {
			return
		}

		for _, msg := range messages {
			if err := r.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				r.Log.WithError(err).WithField("msg_id", msg.MsgID).Warn("publish outbox entry")
				_ = r.Store.MarkRetry(ctx, msg.ID, 10*time.Second)
				continue
			}
			if err := r.Store.MarkPublished(ctx, msg.ID); err != nil {
				r.Log.WithError(err).WithField("msg_id", msg.MsgID).Warn("mark outbox entry published")
			}
		}

		if len(messages) < 100 {
			return
		}
	}
}
