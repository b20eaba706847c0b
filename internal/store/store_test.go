package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, id, userID string) Account {
	t.Helper()

	a := Account{
		ID:           id,
		UserID:       userID,
		Token:        id + "-token",
		Provider:     "Aurinko",
		EmailAddress: id + "@example.com",
		Name:         "Test Account",
	}
	require.NoError(t, s.UpsertAccount(context.Background(), a))
	return a
}

func testMessage(providerMessageID, providerThreadID string, sentAt time.Time) MessageUpsert {
	return MessageUpsert{
		ProviderMessageID: providerMessageID,
		ProviderThreadID:  providerThreadID,
		InternetMessageID: "<" + providerMessageID + "@example.com>",
		Subject:           "hello",
		Body:              "<p>hi</p>",
		BodySnippet:       "hi",
		EmailLabel:        LabelInbox,
		SysLabels:         []string{"inbox", "unread"},
		SentAt:            sentAt,
		ReceivedAt:        sentAt,
		From:              AddressInput{Name: "Ada", Address: "ada@example.com"},
		To:                []AddressInput{{Address: "me@example.com"}},
	}
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()

	var n int
	require.NoError(t, s.db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}
