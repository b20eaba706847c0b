package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertAccount creates the account on first link and refreshes the stored
// credential on re-link. Identity fields other than the token are only set on
// creation, matching the provider callback semantics.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, token, provider, email_address, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at
	`, a.ID, a.UserID, a.Token, a.Provider, a.EmailAddress, a.Name, now, now)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// AccountForUser is the access gate: it resolves the account only when owned
// by userID. Wrong owner and nonexistent id are indistinguishable; both
// return ErrAccessDenied.
func (s *Store) AccountForUser(ctx context.Context, accountID, userID string) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a, `
		SELECT * FROM accounts WHERE id = ? AND user_id = ?
	`, accountID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &a, nil
}

// AccountByID resolves an account without an ownership constraint. Used by
// the webhook path, where the provider names the account directly.
func (s *Store) AccountByID(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &a, nil
}

// AccountsByUser lists the accounts linked by a user.
func (s *Store) AccountsByUser(ctx context.Context, userID string) ([]Account, error) {
	var accounts []Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount unlinks a mailbox. Threads, emails and addresses cascade.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// Cursor returns the account's stored delta cursor, or "" when no initial
// sync has completed yet.
func (s *Store) Cursor(ctx context.Context, accountID string) (string, error) {
	var cursor sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT next_delta_token FROM accounts WHERE id = ?
	`, accountID).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return cursor.String, nil
}

// SaveCursor overwrites the account's delta cursor. Callers invoke this only
// after reconciliation of the corresponding window has committed.
func (s *Store) SaveCursor(ctx context.Context, accountID, cursor string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET next_delta_token = ?, updated_at = ? WHERE id = ?
	`, cursor, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
