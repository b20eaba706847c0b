package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AddressInput is a participant as carried on a provider record.
type AddressInput struct {
	Name    string
	Address string
}

// MessageUpsert is one provider record mapped into the local model, ready to
// be applied.
type MessageUpsert struct {
	ProviderMessageID string
	ProviderThreadID  string
	InternetMessageID string
	Subject           string
	Body              string
	BodySnippet       string
	EmailLabel        string
	SysLabels         []string
	Keywords          []string
	InReplyTo         string
	References        string
	HasAttachments    bool
	SentAt            time.Time
	ReceivedAt        time.Time
	From              AddressInput
	To                []AddressInput
	Cc                []AddressInput
	Bcc               []AddressInput
	ReplyTo           []AddressInput
}

// OutboxEntry is an event to enqueue alongside a newly inserted email.
type OutboxEntry struct {
	Subject   string
	EventType string
	Payload   []byte
	MsgID     string
}

// ApplyMessage applies one mapped record in a single transaction: upsert the
// participant addresses, upsert the owning thread, upsert the email keyed by
// (account, provider message id), replace recipient links, refresh the
// thread's denormalized state, and enqueue evt when the email is new.
// Re-applying the same record is a no-op apart from overwriting mutable email
// fields. Returns whether the email was newly inserted.
func (s *Store) ApplyMessage(ctx context.Context, accountID string, m MessageUpsert, evt *OutboxEntry) (bool, error) {
	if m.ProviderMessageID == "" || m.ProviderThreadID == "" {
		return false, fmt.Errorf("record missing provider message or thread id")
	}
	if m.From.Address == "" {
		return false, fmt.Errorf("record %s has no sender address", m.ProviderMessageID)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	fromID, err := upsertAddressTx(ctx, tx, accountID, m.From)
	if err != nil {
		return false, err
	}

	recipients := map[string][]AddressInput{
		"to":      m.To,
		"cc":      m.Cc,
		"bcc":     m.Bcc,
		"replyTo": m.ReplyTo,
	}
	recipientIDs := map[string][]string{}
	for kind, addrs := range recipients {
		for _, a := range addrs {
			if a.Address == "" {
				continue
			}
			id, err := upsertAddressTx(ctx, tx, accountID, a)
			if err != nil {
				return false, err
			}
			recipientIDs[kind] = append(recipientIDs[kind], id)
		}
	}

	threadID, err := upsertThreadTx(ctx, tx, accountID, m.ProviderThreadID, m.Subject)
	if err != nil {
		return false, err
	}

	emailID, inserted, err := upsertEmailTx(ctx, tx, accountID, threadID, fromID, m)
	if err != nil {
		return false, err
	}

	// Recipient links are replaced wholesale so redelivery converges.
	if _, err := tx.ExecContext(ctx, `DELETE FROM email_recipients WHERE email_id = ?`, emailID); err != nil {
		return false, fmt.Errorf("clear recipients: %w", err)
	}
	for kind, ids := range recipientIDs {
		for _, addrID := range ids {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO email_recipients (email_id, address_id, kind)
				VALUES (?, ?, ?)
			`, emailID, addrID, kind)
			if err != nil {
				return false, fmt.Errorf("link %s recipient: %w", kind, err)
			}
		}
	}

	if err := refreshThreadStateTx(ctx, tx, threadID); err != nil {
		return false, err
	}

	if inserted && evt != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, time.Now().Unix(), evt.Subject, evt.EventType, evt.Payload, evt.MsgID, time.Now().Unix())
		if err != nil {
			return false, fmt.Errorf("enqueue outbox entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func upsertAddressTx(ctx context.Context, tx *sqlx.Tx, accountID string, in AddressInput) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(in.Address))

	_, err := tx.ExecContext(ctx, `
		INSERT INTO email_addresses (id, account_id, address, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, address) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE email_addresses.name END
	`, uuid.NewString(), accountID, addr, in.Name)
	if err != nil {
		return "", fmt.Errorf("upsert address %s: %w", addr, err)
	}

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM email_addresses WHERE account_id = ? AND address = ?
	`, accountID, addr).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("resolve address %s: %w", addr, err)
	}
	return id, nil
}

func upsertThreadTx(ctx context.Context, tx *sqlx.Tx, accountID, providerThreadID, subject string) (string, error) {
	// Thread subject is fixed at creation from the first email seen.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, account_id, provider_thread_id, subject)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, provider_thread_id) DO NOTHING
	`, uuid.NewString(), accountID, providerThreadID, subject)
	if err != nil {
		return "", fmt.Errorf("upsert thread %s: %w", providerThreadID, err)
	}

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM threads WHERE account_id = ? AND provider_thread_id = ?
	`, accountID, providerThreadID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("resolve thread %s: %w", providerThreadID, err)
	}
	return id, nil
}

func upsertEmailTx(ctx context.Context, tx *sqlx.Tx, accountID, threadID, fromID string, m MessageUpsert) (string, bool, error) {
	var existingID string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM emails WHERE account_id = ? AND provider_message_id = ?
	`, accountID, m.ProviderMessageID).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("look up email %s: %w", m.ProviderMessageID, err)
	}

	sysLabels := mustJSON(m.SysLabels)
	keywords := mustJSON(m.Keywords)

	if existingID != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE emails SET
				email_label = ?,
				body = ?,
				body_snippet = ?,
				sys_labels = ?,
				keywords = ?,
				has_attachments = ?,
				from_address_id = ?,
				received_at = ?
			WHERE id = ?
		`, m.EmailLabel, m.Body, m.BodySnippet, sysLabels, keywords,
			m.HasAttachments, fromID, m.ReceivedAt.UTC(), existingID)
		if err != nil {
			return "", false, fmt.Errorf("update email %s: %w", m.ProviderMessageID, err)
		}
		return existingID, false, nil
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (
			id, account_id, thread_id, provider_message_id, internet_message_id,
			from_address_id, subject, body, body_snippet, email_label,
			sys_labels, keywords, in_reply_to, references_list, has_attachments,
			sent_at, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, accountID, threadID, m.ProviderMessageID, m.InternetMessageID,
		fromID, m.Subject, m.Body, m.BodySnippet, m.EmailLabel,
		sysLabels, keywords, m.InReplyTo, m.References, m.HasAttachments,
		m.SentAt.UTC(), m.ReceivedAt.UTC())
	if err != nil {
		return "", false, fmt.Errorf("insert email %s: %w", m.ProviderMessageID, err)
	}
	return id, true, nil
}

// refreshThreadStateTx recomputes the denormalized flags and last message
// date from the thread's emails.
func refreshThreadStateTx(ctx context.Context, tx *sqlx.Tx, threadID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE threads SET
			inbox_status = EXISTS(SELECT 1 FROM emails WHERE thread_id = threads.id AND email_label = 'inbox'),
			sent_status  = EXISTS(SELECT 1 FROM emails WHERE thread_id = threads.id AND email_label = 'sent'),
			draft_status = EXISTS(SELECT 1 FROM emails WHERE thread_id = threads.id AND email_label = 'draft'),
			last_message_date = (SELECT MAX(sent_at) FROM emails WHERE thread_id = threads.id)
		WHERE id = ?
	`, threadID)
	if err != nil {
		return fmt.Errorf("refresh thread state: %w", err)
	}
	return nil
}

func mustJSON(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}
