package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// threadFilter returns the denormalized-flag predicate for a folder tab.
// Unknown tabs fall back to the inbox.
func threadFilter(tab string) string {
	switch tab {
	case "sent":
		return "sent_status = 1"
	case "drafts":
		return "draft_status = 1"
	default:
		return "inbox_status = 1"
	}
}

// ListThreads returns up to limit threads in a folder tab with the given done
// state, newest conversation first, each with its emails in sent order.
func (s *Store) ListThreads(ctx context.Context, accountID, tab string, done bool, limit int) ([]Thread, error) {
	query := fmt.Sprintf(`
		SELECT * FROM threads
		WHERE account_id = ? AND %s AND done = ?
		ORDER BY last_message_date DESC
		LIMIT ?
	`, threadFilter(tab))

	var threads []Thread
	if err := s.db.SelectContext(ctx, &threads, query, accountID, done, limit); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	if err := s.attachEmails(ctx, threads, false); err != nil {
		return nil, err
	}
	return threads, nil
}

// CountThreads counts the threads in a folder tab regardless of done state.
func (s *Store) CountThreads(ctx context.Context, accountID, tab string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM threads WHERE account_id = ? AND %s
	`, threadFilter(tab))

	var n int
	if err := s.db.GetContext(ctx, &n, query, accountID); err != nil {
		return 0, fmt.Errorf("count threads: %w", err)
	}
	return n, nil
}

// ThreadWithEmails loads one thread scoped to an account, with emails in sent
// order including full recipient lists.
func (s *Store) ThreadWithEmails(ctx context.Context, accountID, threadID string) (*Thread, error) {
	var t Thread
	err := s.db.GetContext(ctx, &t, `
		SELECT * FROM threads WHERE id = ? AND account_id = ?
	`, threadID, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load thread: %w", err)
	}

	threads := []Thread{t}
	if err := s.attachEmails(ctx, threads, true); err != nil {
		return nil, err
	}
	return &threads[0], nil
}

// SetThreadsDone marks threads done or not done, scoped to the account.
func (s *Store) SetThreadsDone(ctx context.Context, accountID string, threadIDs []string, done bool) error {
	if len(threadIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE threads SET done = ? WHERE account_id = ? AND id IN (?)
	`, done, accountID, threadIDs)
	if err != nil {
		return fmt.Errorf("build done update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("set threads done: %w", err)
	}
	return nil
}

// SearchAddresses finds addresses for compose autocompletion by substring
// match on the address or display name.
func (s *Store) SearchAddresses(ctx context.Context, accountID, query string, limit int) ([]Address, error) {
	pattern := "%" + query + "%"

	var addrs []Address
	err := s.db.SelectContext(ctx, &addrs, `
		SELECT * FROM email_addresses
		WHERE account_id = ? AND (address LIKE ? OR name LIKE ?)
		ORDER BY address
		LIMIT ?
	`, accountID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search addresses: %w", err)
	}
	return addrs, nil
}

// attachEmails loads the emails for a set of threads, resolving the sender
// address for each and, when withRecipients is set, the to/cc/bcc/replyTo
// lists.
func (s *Store) attachEmails(ctx context.Context, threads []Thread, withRecipients bool) error {
	if len(threads) == 0 {
		return nil
	}

	threadIDs := make([]string, len(threads))
	for i := range threads {
		threadIDs[i] = threads[i].ID
	}

	query, args, err := sqlx.In(`
		SELECT * FROM emails WHERE thread_id IN (?) ORDER BY sent_at ASC
	`, threadIDs)
	if err != nil {
		return fmt.Errorf("build email query: %w", err)
	}

	var emails []Email
	if err := s.db.SelectContext(ctx, &emails, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load emails: %w", err)
	}
	if len(emails) == 0 {
		return nil
	}

	addrIDs := make([]string, 0, len(emails))
	emailIDs := make([]string, 0, len(emails))
	for i := range emails {
		addrIDs = append(addrIDs, emails[i].FromAddressID)
		emailIDs = append(emailIDs, emails[i].ID)
		_ = json.Unmarshal([]byte(emails[i].SysLabelsRaw), &emails[i].SysLabels)
	}

	addrByID, err := s.addressesByID(ctx, addrIDs)
	if err != nil {
		return err
	}
	for i := range emails {
		emails[i].From = addrByID[emails[i].FromAddressID]
	}

	if withRecipients {
		if err := s.loadRecipients(ctx, emails, emailIDs); err != nil {
			return err
		}
	}

	byThread := map[string][]Email{}
	for _, e := range emails {
		byThread[e.ThreadID] = append(byThread[e.ThreadID], e)
	}
	for i := range threads {
		threads[i].Emails = byThread[threads[i].ID]
	}
	return nil
}

func (s *Store) addressesByID(ctx context.Context, ids []string) (map[string]Address, error) {
	query, args, err := sqlx.In(`SELECT * FROM email_addresses WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build address query: %w", err)
	}

	var addrs []Address
	if err := s.db.SelectContext(ctx, &addrs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}

	byID := make(map[string]Address, len(addrs))
	for _, a := range addrs {
		byID[a.ID] = a
	}
	return byID, nil
}

type recipientRow struct {
	EmailID string `db:"email_id"`
	Kind    string `db:"kind"`
	Address
}

func (s *Store) loadRecipients(ctx context.Context, emails []Email, emailIDs []string) error {
	query, args, err := sqlx.In(`
		SELECT r.email_id, r.kind, a.id, a.account_id, a.address, a.name
		FROM email_recipients r
		JOIN email_addresses a ON a.id = r.address_id
		WHERE r.email_id IN (?)
		ORDER BY a.address
	`, emailIDs)
	if err != nil {
		return fmt.Errorf("build recipient query: %w", err)
	}

	var rows []recipientRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	byEmail := map[string]map[string][]Address{}
	for _, r := range rows {
		if byEmail[r.EmailID] == nil {
			byEmail[r.EmailID] = map[string][]Address{}
		}
		byEmail[r.EmailID][r.Kind] = append(byEmail[r.EmailID][r.Kind], r.Address)
	}

	for i := range emails {
		kinds := byEmail[emails[i].ID]
		emails[i].To = kinds["to"]
		emails[i].Cc = kinds["cc"]
		emails[i].Bcc = kinds["bcc"]
		emails[i].ReplyTo = kinds["replyTo"]
	}
	return nil
}
