package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Client issues authenticated calls against the unified mail API. It holds no
// per-account state; the credential for each call is supplied by the caller.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	log          *logrus.Entry
}

// New creates a provider client. clientID and clientSecret are only used for
// the authorization-code exchange; all other calls authenticate with the
// per-account credential.
func New(baseURL, clientID, clientSecret string, log *logrus.Entry) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

// ExchangeCode trades an authorization code from the provider's consent
// redirect for an account id and access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/auth/token/%s", c.baseURL, url.PathEscape(code)), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)

	var out TokenResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.AccountID == 0 || out.AccessToken == "" {
		return nil, &MalformedResponseError{Reason: "token response missing accountId or accessToken"}
	}
	return &out, nil
}

// AccountDetails fetches the email address and display name behind a credential.
func (c *Client) AccountDetails(ctx context.Context, cred Credential) (*AccountDetails, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/account", cred, nil, nil)
	if err != nil {
		return nil, err
	}

	var out AccountDetails
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Email == "" {
		return nil, &MalformedResponseError{Reason: "account details missing email"}
	}
	return &out, nil
}

// StartSync asks the provider to begin indexing the most recent daysWithin
// days of the mailbox. The provider may answer Ready=false while the index is
// still building; callers poll by repeating the call.
func (c *Client) StartSync(ctx context.Context, cred Credential, daysWithin int) (*SyncStartResponse, error) {
	params := url.Values{}
	params.Set("daysWithin", strconv.Itoa(daysWithin))
	params.Set("bodyType", "html")

	req, err := c.newRequest(ctx, http.MethodPost, "/email/sync", cred, params, nil)
	if err != nil {
		return nil, err
	}

	var out SyncStartResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Ready && out.SyncUpdatedToken == "" {
		return nil, &MalformedResponseError{Reason: "sync ready but no syncUpdatedToken"}
	}
	return &out, nil
}

// FetchUpdated retrieves one page of changed message records. Exactly one of
// page.DeltaToken or page.PageToken must be set.
func (c *Client) FetchUpdated(ctx context.Context, cred Credential, page Page) (*SyncUpdatedResponse, error) {
	if (page.DeltaToken == "") == (page.PageToken == "") {
		return nil, fmt.Errorf("fetch updated: exactly one of deltaToken or pageToken must be set")
	}

	params := url.Values{}
	if page.DeltaToken != "" {
		params.Set("deltaToken", page.DeltaToken)
	}
	if page.PageToken != "" {
		params.Set("pageToken", page.PageToken)
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/email/sync/updated", cred, params, nil)
	if err != nil {
		return nil, err
	}

	var out SyncUpdatedResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	for i, rec := range out.Records {
		if rec.ID == "" || rec.ThreadID == "" {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("record %d missing id or threadId", i)}
		}
	}
	return &out, nil
}

// FetchMessage retrieves a single message by provider id.
func (c *Client) FetchMessage(ctx context.Context, cred Credential, messageID string) (*Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/email/messages/"+url.PathEscape(messageID), cred, nil, nil)
	if err != nil {
		return nil, err
	}

	var out Message
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &MalformedResponseError{Reason: "message missing id"}
	}
	return &out, nil
}

// SendMessage submits a draft for delivery. On an ambiguous network failure
// the caller must not assume the message was delivered.
func (c *Client) SendMessage(ctx context.Context, cred Credential, draft Draft) (*SendResult, error) {
	params := url.Values{}
	params.Set("returnIds", "true")

	req, err := c.newRequest(ctx, http.MethodPost, "/email/messages", cred, params, draft)
	if err != nil {
		return nil, err
	}

	var out SendResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWebhooks returns the notification subscriptions registered for the account.
func (c *Client) ListWebhooks(ctx context.Context, cred Credential) ([]Webhook, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/subscriptions", cred, nil, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Records []Webhook `json:"records"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// CreateWebhook registers a notification subscription for new mail.
func (c *Client) CreateWebhook(ctx context.Context, cred Credential, notificationURL string) (*Webhook, error) {
	body := map[string]string{
		"resource":        "/email/messages",
		"notificationUrl": notificationURL,
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/subscriptions", cred, nil, body)
	if err != nil {
		return nil, err
	}

	var out Webhook
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteWebhook removes a notification subscription.
func (c *Client) DeleteWebhook(ctx context.Context, cred Credential, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/subscriptions/%d", id), cred, nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, cred Credential, params url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(cred))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do performs the request and decodes a 2xx response into out. Non-2xx
// statuses become RequestError, transport failures become UnreachableError,
// undecodable bodies become MalformedResponseError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"path":   req.URL.Path,
		}).Warn("provider request failed")
		return &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Reason: err.Error()}
	}
	return nil
}
