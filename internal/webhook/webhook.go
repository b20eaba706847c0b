package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mailbridge/mailbridge/internal/store"
	syncpkg "github.com/mailbridge/mailbridge/internal/sync"
)

// Notification is the provider's change notification payload.
type Notification struct {
	Subscription int64  `json:"subscription"`
	Resource     string `json:"resource"`
	AccountID    int64  `json:"accountId"`
	Payloads     []struct {
		ID         string `json:"id"`
		ChangeType string `json:"changeType"`
		Attributes struct {
			ThreadID string `json:"threadId"`
		} `json:"attributes"`
	} `json:"payloads"`
}

// AccountStore resolves notification account ids.
type AccountStore interface {
	AccountByID(ctx context.Context, accountID string) (*store.Account, error)
}

// SyncTrigger kicks an incremental sync for a notified account.
type SyncTrigger interface {
	RunIncremental(ctx context.Context, account *store.Account) error
}

// Handler consumes signed provider notifications and triggers incremental
// syncs for the referenced accounts.
type Handler struct {
	secret   string
	accounts AccountStore
	syncs    SyncTrigger
	log      *logrus.Entry
}

// NewHandler creates a webhook handler with the shared signing secret.
func NewHandler(secret string, accounts AccountStore, syncs SyncTrigger, log *logrus.Entry) *Handler {
	return &Handler{secret: secret, accounts: accounts, syncs: syncs, log: log}
}

// Signature computes the expected hex HMAC-SHA256 over "v0:{timestamp}:{body}".
func Signature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares signatures in constant time.
func verify(secret, timestamp string, body []byte, signature string) bool {
	expected := Signature(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Handle processes one notification request. A validation handshake (the
// provider probing the endpoint with a validationToken query parameter) is
// echoed back before any signature logic runs.
func (h *Handler) Handle(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, token)
		return
	}

	timestamp := c.GetHeader("X-Aurinko-Request-Timestamp")
	signature := c.GetHeader("X-Aurinko-Signature")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || timestamp == "" || signature == "" || len(body) == 0 {
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	if !verify(h.secret, timestamp, body, signature) {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	account, err := h.accounts.AccountByID(c.Request.Context(), strconv.FormatInt(n.AccountID, 10))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.String(http.StatusNotFound, "Account not found")
			return
		}
		h.log.WithError(err).Error("resolve webhook account")
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.log.WithFields(logrus.Fields{
		"account":  account.ID,
		"payloads": len(n.Payloads),
	}).Info("mail change notification")

	if err := h.syncs.RunIncremental(c.Request.Context(), account); err != nil {
		if errors.Is(err, syncpkg.ErrSyncRunning) {
			// A cycle in flight will pick the change up via its cursor.
			c.String(http.StatusOK, "OK")
			return
		}
		h.log.WithError(err).WithField("account", account.ID).Error("webhook sync failed")
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.String(http.StatusOK, "OK")
}
