package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"inbox", []string{"unread", "inbox"}, store.LabelInbox},
		{"sent", []string{"sent"}, store.LabelSent},
		{"draft", []string{"draft"}, store.LabelDraft},
		{"draft wins over sent", []string{"sent", "draft"}, store.LabelDraft},
		{"case insensitive", []string{"Sent"}, store.LabelSent},
		{"no labels defaults to inbox", nil, store.LabelInbox},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.labels))
		})
	}
}

func TestMapRecordFillsMissingTimes(t *testing.T) {
	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m := mapRecord(provider.Message{
		ID:         "m1",
		ThreadID:   "t1",
		ReceivedAt: received,
	})

	assert.Equal(t, received, m.SentAt, "sentAt falls back to receivedAt")
	assert.Equal(t, received, m.ReceivedAt)
}

func TestMapRecordCarriesParticipants(t *testing.T) {
	rec := provider.Message{
		ID:       "m1",
		ThreadID: "t1",
		From:     provider.EmailAddress{Name: "Ada", Address: "ada@example.com"},
		To: []provider.EmailAddress{
			{Address: "bob@example.com"},
			{Address: "carol@example.com"},
		},
		Cc:        []provider.EmailAddress{{Address: "dave@example.com"}},
		SysLabels: []string{"inbox", "unread"},
		SentAt:    time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
	}

	m := mapRecord(rec)

	require.Len(t, m.To, 2)
	assert.Equal(t, "ada@example.com", m.From.Address)
	assert.Equal(t, "dave@example.com", m.Cc[0].Address)
	assert.Equal(t, store.LabelInbox, m.EmailLabel)
	assert.Equal(t, []string{"inbox", "unread"}, m.SysLabels)
}

func TestOutboxEventIsStablePerMessage(t *testing.T) {
	rec := record("m1", "t1")

	a := outboxEvent("acct-1", rec)
	b := outboxEvent("acct-1", rec)

	// Broker-side dedupe relies on the msg id being deterministic.
	assert.Equal(t, a.MsgID, b.MsgID)
	assert.Equal(t, "account.acct-1.email.received", a.Subject)
	assert.Equal(t, "email.received", a.EventType)
}
