package store

import (
	"time"
)

// Account is one linked mailbox.
type Account struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"-"`
	Token          string     `db:"token" json:"-"`
	Provider       string     `db:"provider" json:"provider"`
	EmailAddress   string     `db:"email_address" json:"emailAddress"`
	Name           string     `db:"name" json:"name"`
	NextDeltaToken *string    `db:"next_delta_token" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"-"`
	UpdatedAt      time.Time  `db:"updated_at" json:"-"`
}

// Thread is a conversation grouping of emails within one account. The status
// flags and LastMessageDate are denormalized from the thread's emails.
type Thread struct {
	ID               string     `db:"id" json:"id"`
	AccountID        string     `db:"account_id" json:"-"`
	ProviderThreadID string     `db:"provider_thread_id" json:"-"`
	Subject          string     `db:"subject" json:"subject"`
	InboxStatus      bool       `db:"inbox_status" json:"inboxStatus"`
	SentStatus       bool       `db:"sent_status" json:"sentStatus"`
	DraftStatus      bool       `db:"draft_status" json:"draftStatus"`
	Done             bool       `db:"done" json:"done"`
	LastMessageDate  *time.Time `db:"last_message_date" json:"lastMessageDate"`

	Emails []Email `db:"-" json:"emails,omitempty"`
}

// Address is a deduplicated (account, address) pair referenced by emails.
type Address struct {
	ID        string `db:"id" json:"id"`
	AccountID string `db:"account_id" json:"-"`
	Addr      string `db:"address" json:"address"`
	Name      string `db:"name" json:"name"`
}

// Email is a single message within a thread.
type Email struct {
	ID                string    `db:"id" json:"id"`
	AccountID         string    `db:"account_id" json:"-"`
	ThreadID          string    `db:"thread_id" json:"threadId"`
	ProviderMessageID string    `db:"provider_message_id" json:"-"`
	InternetMessageID string    `db:"internet_message_id" json:"internetMessageId"`
	FromAddressID     string    `db:"from_address_id" json:"-"`
	Subject           string    `db:"subject" json:"subject"`
	Body              string    `db:"body" json:"body"`
	BodySnippet       string    `db:"body_snippet" json:"bodySnippet"`
	EmailLabel        string    `db:"email_label" json:"emailLabel"`
	SysLabelsRaw      string    `db:"sys_labels" json:"-"`
	KeywordsRaw       string    `db:"keywords" json:"-"`
	InReplyTo         string    `db:"in_reply_to" json:"inReplyTo,omitempty"`
	References        string    `db:"references_list" json:"references,omitempty"`
	HasAttachments    bool      `db:"has_attachments" json:"hasAttachments"`
	SentAt            time.Time `db:"sent_at" json:"sentAt"`
	ReceivedAt        time.Time `db:"received_at" json:"receivedAt"`

	SysLabels []string  `db:"-" json:"sysLabels"`
	From      Address   `db:"-" json:"from"`
	To        []Address `db:"-" json:"to,omitempty"`
	Cc        []Address `db:"-" json:"cc,omitempty"`
	Bcc       []Address `db:"-" json:"bcc,omitempty"`
	ReplyTo   []Address `db:"-" json:"replyTo,omitempty"`
}

// Folder labels derived from the provider's system labels.
const (
	LabelInbox = "inbox"
	LabelSent  = "sent"
	LabelDraft = "draft"
)
