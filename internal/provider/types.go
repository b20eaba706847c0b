package provider

import "time"

// Credential is the opaque bearer token for one linked mailbox. It is passed
// explicitly into every call so a single Client can serve any number of
// accounts concurrently.
type Credential string

// EmailAddress is a name/address pair as the provider reports participants.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Message is one raw message record from the provider.
type Message struct {
	ID                string         `json:"id"`
	ThreadID          string         `json:"threadId"`
	InternetMessageID string         `json:"internetMessageId"`
	Subject           string         `json:"subject"`
	SysLabels         []string       `json:"sysLabels"`
	Keywords          []string       `json:"keywords"`
	SentAt            time.Time      `json:"sentAt"`
	ReceivedAt        time.Time      `json:"receivedAt"`
	From              EmailAddress   `json:"from"`
	To                []EmailAddress `json:"to"`
	Cc                []EmailAddress `json:"cc"`
	Bcc               []EmailAddress `json:"bcc"`
	ReplyTo           []EmailAddress `json:"replyTo"`
	Body              string         `json:"body"`
	BodySnippet       string         `json:"bodySnippet"`
	InReplyTo         string         `json:"inReplyTo"`
	References        string         `json:"references"`
	HasAttachments    bool           `json:"hasAttachments"`
}

// SyncStartResponse is the provider's answer to a sync start request. The
// provider indexes the mailbox window asynchronously; Ready reports whether
// the tokens are usable yet.
type SyncStartResponse struct {
	Ready            bool   `json:"ready"`
	SyncUpdatedToken string `json:"syncUpdatedToken"`
	SyncDeletedToken string `json:"syncDeletedToken"`
}

// Page selects the continuation point for a FetchUpdated call. Exactly one of
// DeltaToken or PageToken must be set.
type Page struct {
	DeltaToken string
	PageToken  string
}

// SyncUpdatedResponse is one page of changed message records.
type SyncUpdatedResponse struct {
	Records        []Message `json:"records"`
	NextPageToken  string    `json:"nextPageToken"`
	NextDeltaToken string    `json:"nextDeltaToken"`
}

// TokenResponse is the result of exchanging an authorization code.
type TokenResponse struct {
	AccountID   int64  `json:"accountId"`
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	UserSession string `json:"userSession"`
}

// AccountDetails describes the mailbox behind a credential.
type AccountDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Draft is an outgoing message.
type Draft struct {
	From      EmailAddress   `json:"from"`
	To        []EmailAddress `json:"to"`
	Cc        []EmailAddress `json:"cc,omitempty"`
	Bcc       []EmailAddress `json:"bcc,omitempty"`
	ReplyTo   []EmailAddress `json:"replyTo,omitempty"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	InReplyTo string         `json:"inReplyTo,omitempty"`
	ThreadID  string         `json:"threadId,omitempty"`
}

// SendResult is the provider's acknowledgement of a sent message.
type SendResult struct {
	ID string `json:"id"`
}

// Webhook is one notification subscription on the provider side.
type Webhook struct {
	ID              int64  `json:"id"`
	Resource        string `json:"resource"`
	NotificationURL string `json:"notificationUrl"`
	Active          bool   `json:"active"`
}
