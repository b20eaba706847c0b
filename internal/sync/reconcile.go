package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
)

// Reconciler merges fetched provider records into the local model. Every step
// is an idempotent upsert, so applying the same record twice converges and a
// batch interrupted mid-way is safe to re-run from the unchanged cursor.
type Reconciler struct {
	Store Store
	Log   *logrus.Entry
}

// Reconcile applies records in order, stopping at the first failure so the
// caller does not advance the cursor past unprocessed records. Records
// already committed before the failure stay committed.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, records []provider.Message) error {
	for _, rec := range records {
		inserted, err := r.Store.ApplyMessage(ctx, accountID, mapRecord(rec), outboxEvent(accountID, rec))
		if err != nil {
			return fmt.Errorf("reconcile message %s: %w", rec.ID, err)
		}
		if inserted {
			r.Log.WithFields(logrus.Fields{
				"account": accountID,
				"message": rec.ID,
				"thread":  rec.ThreadID,
			}).Debug("email stored")
		}
	}
	return nil
}

// mapRecord converts a raw provider record into the local upsert shape,
// deriving the folder classification from the provider's system labels.
func mapRecord(rec provider.Message) store.MessageUpsert {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = rec.ReceivedAt
	}
	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = sentAt
	}

	return store.MessageUpsert{
		ProviderMessageID: rec.ID,
		ProviderThreadID:  rec.ThreadID,
		InternetMessageID: rec.InternetMessageID,
		Subject:           rec.Subject,
		Body:              rec.Body,
		BodySnippet:       rec.BodySnippet,
		EmailLabel:        classify(rec.SysLabels),
		SysLabels:         rec.SysLabels,
		Keywords:          rec.Keywords,
		InReplyTo:         rec.InReplyTo,
		References:        rec.References,
		HasAttachments:    rec.HasAttachments,
		SentAt:            sentAt,
		ReceivedAt:        receivedAt,
		From:              mapAddress(rec.From),
		To:                mapAddresses(rec.To),
		Cc:                mapAddresses(rec.Cc),
		Bcc:               mapAddresses(rec.Bcc),
		ReplyTo:           mapAddresses(rec.ReplyTo),
	}
}

// classify picks the folder label for a message. Drafts win over sent, sent
// over inbox; everything else lands in the inbox.
func classify(sysLabels []string) string {
	var sent bool
	for _, l := range sysLabels {
		switch strings.ToLower(l) {
		case "draft":
			return store.LabelDraft
		case "sent":
			sent = true
		}
	}
	if sent {
		return store.LabelSent
	}
	return store.LabelInbox
}

func mapAddress(a provider.EmailAddress) store.AddressInput {
	return store.AddressInput{Name: a.Name, Address: a.Address}
}

func mapAddresses(addrs []provider.EmailAddress) []store.AddressInput {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]store.AddressInput, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, mapAddress(a))
	}
	return out
}

// outboxEvent builds the email.received event enqueued transactionally with a
// newly inserted email. The message id dedupes redeliveries at the broker.
func outboxEvent(accountID string, rec provider.Message) *store.OutboxEntry {
	payload, _ := json.Marshal(map[string]any{
		"event_id":            uuid.NewString(),
		"ts":                  time.Now().Unix(),
		"account_id":          accountID,
		"provider_message_id": rec.ID,
		"provider_thread_id":  rec.ThreadID,
		"subject":             rec.Subject,
		"sender":              rec.From.Address,
		"snippet":             rec.BodySnippet,
		"sent_at":             rec.SentAt.Unix(),
	})

	return &store.OutboxEntry{
		Subject:   fmt.Sprintf("account.%s.email.received", accountID),
		EventType: "email.received",
		Payload:   payload,
		MsgID:     fmt.Sprintf("email.received|%s|%s", accountID, rec.ID),
	}
}
