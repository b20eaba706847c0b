package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	m := testMessage("m1", "t1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	inserted, err := s.ApplyMessage(ctx, "acct-1", m, nil)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.ApplyMessage(ctx, "acct-1", m, nil)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivery is not an insert")

	assert.Equal(t, 1, countRows(t, s, "emails"))
	assert.Equal(t, 1, countRows(t, s, "threads"))
	assert.Equal(t, 2, countRows(t, s, "email_addresses"))
	assert.Equal(t, 1, countRows(t, s, "email_recipients"))
}

func TestApplyMessageOverwritesMutableFields(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	m := testMessage("m1", "t1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	_, err := s.ApplyMessage(ctx, "acct-1", m, nil)
	require.NoError(t, err)

	// A later delivery of the same record carries updated state.
	m.EmailLabel = LabelSent
	m.BodySnippet = "updated snippet"
	m.SysLabels = []string{"sent"}
	m.HasAttachments = true
	_, err = s.ApplyMessage(ctx, "acct-1", m, nil)
	require.NoError(t, err)

	var threadID string
	require.NoError(t, s.db.Get(&threadID, `SELECT id FROM threads WHERE account_id = 'acct-1'`))

	thread, err := s.ThreadWithEmails(ctx, "acct-1", threadID)
	require.NoError(t, err)
	require.Len(t, thread.Emails, 1)

	email := thread.Emails[0]
	assert.Equal(t, LabelSent, email.EmailLabel)
	assert.Equal(t, "updated snippet", email.BodySnippet)
	assert.Equal(t, []string{"sent"}, email.SysLabels)
	assert.True(t, email.HasAttachments)

	// Flags follow the relabeled email.
	assert.True(t, thread.SentStatus)
	assert.False(t, thread.InboxStatus)
}

func TestThreadLastMessageDateIsMax(t *testing.T) {
	day1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	day3 := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)

	orders := map[string][]MessageUpsert{
		"oldest first": {testMessage("m1", "t1", day1), testMessage("m2", "t1", day3)},
		"newest first": {testMessage("m2", "t1", day3), testMessage("m1", "t1", day1)},
	}

	for name, msgs := range orders {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			seedAccount(t, s, "acct-1", "user-1")
			ctx := context.Background()

			for _, m := range msgs {
				_, err := s.ApplyMessage(ctx, "acct-1", m, nil)
				require.NoError(t, err)
			}

			threads, err := s.ListThreads(ctx, "acct-1", "inbox", false, 10)
			require.NoError(t, err)
			require.Len(t, threads, 1)
			require.NotNil(t, threads[0].LastMessageDate)
			assert.WithinDuration(t, day3, *threads[0].LastMessageDate, time.Second)
		})
	}
}

func TestThreadFlagsCombineAcrossEmails(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	received := testMessage("m1", "t1", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	reply := testMessage("m2", "t1", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	reply.EmailLabel = LabelSent
	reply.SysLabels = []string{"sent"}

	for _, m := range []MessageUpsert{received, reply} {
		_, err := s.ApplyMessage(ctx, "acct-1", m, nil)
		require.NoError(t, err)
	}

	threads, err := s.ListThreads(ctx, "acct-1", "inbox", false, 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	assert.True(t, threads[0].InboxStatus)
	assert.True(t, threads[0].SentStatus)
	assert.False(t, threads[0].DraftStatus)
	assert.Len(t, threads[0].Emails, 2)
}

func TestApplyMessageDeduplicatesAddresses(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	first := testMessage("m1", "t1", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	first.From = AddressInput{Address: "Ada@Example.com"}

	second := testMessage("m2", "t2", time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))
	second.From = AddressInput{Name: "Ada Lovelace", Address: "ada@example.com"}

	for _, m := range []MessageUpsert{first, second} {
		_, err := s.ApplyMessage(ctx, "acct-1", m, nil)
		require.NoError(t, err)
	}

	addrs, err := s.SearchAddresses(ctx, "acct-1", "ada", 10)
	require.NoError(t, err)
	require.Len(t, addrs, 1, "case variants collapse to one normalized row")
	assert.Equal(t, "ada@example.com", addrs[0].Addr)
	assert.Equal(t, "Ada Lovelace", addrs[0].Name, "later non-empty name wins")
}

func TestApplyMessageEnqueuesOutboxOncePerInsert(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	m := testMessage("m1", "t1", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	evt := &OutboxEntry{
		Subject:   "account.acct-1.email.received",
		EventType: "email.received",
		Payload:   []byte(`{"messageId":"m1"}`),
		MsgID:     "email.received|acct-1|m1",
	}

	_, err := s.ApplyMessage(ctx, "acct-1", m, evt)
	require.NoError(t, err)
	_, err = s.ApplyMessage(ctx, "acct-1", m, evt)
	require.NoError(t, err)

	pending, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "account.acct-1.email.received", pending[0].Subject)
	assert.Equal(t, "email.received|acct-1|m1", pending[0].MsgID)

	require.NoError(t, s.MarkPublished(ctx, pending[0].ID))

	pending, err = s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkRetryDefersDelivery(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	m := testMessage("m1", "t1", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	evt := &OutboxEntry{Subject: "s", EventType: "e", Payload: []byte(`{}`), MsgID: "id-1"}
	_, err := s.ApplyMessage(ctx, "acct-1", m, evt)
	require.NoError(t, err)

	pending, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkRetry(ctx, pending[0].ID, time.Hour))

	pending, err = s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "retried entry is not due yet")
}

func TestApplyMessageRejectsIncompleteRecords(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user-1")
	ctx := context.Background()

	noThread := testMessage("m1", "", time.Now())
	_, err := s.ApplyMessage(ctx, "acct-1", noThread, nil)
	require.Error(t, err)

	noSender := testMessage("m1", "t1", time.Now())
	noSender.From = AddressInput{}
	_, err = s.ApplyMessage(ctx, "acct-1", noSender, nil)
	require.Error(t, err)

	assert.Equal(t, 0, countRows(t, s, "emails"))
}
