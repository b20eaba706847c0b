package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailbridge/mailbridge/internal/auth"
	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
	"github.com/mailbridge/mailbridge/internal/sync"
)

// gate resolves the account through the access gate. On failure it writes the
// response and returns nil; wrong owner and unknown id are indistinguishable.
func (s *Server) gate(c *gin.Context) *store.Account {
	account, err := s.store.AccountForUser(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrAccessDenied) {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		} else {
			s.log.WithError(err).Error("account lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return nil
	}
	return account
}

func (s *Server) providerError(c *gin.Context, err error) {
	var reqErr *provider.RequestError
	var unreachable *provider.UnreachableError
	switch {
	case errors.As(err, &reqErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider rejected request"})
	case errors.As(err, &unreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider unreachable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleCallback completes the provider token handoff: exchange the
// authorization code, look up the mailbox identity, upsert the account and
// kick the initial sync in the background.
func (s *Server) handleCallback(c *gin.Context) {
	if c.Query("status") != "success" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account connection failed"})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	token, err := s.provider.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		s.log.WithError(err).Error("token exchange failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch token"})
		return
	}

	details, err := s.provider.AccountDetails(c.Request.Context(), provider.Credential(token.AccessToken))
	if err != nil {
		s.log.WithError(err).Error("account details fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch account details"})
		return
	}

	account := store.Account{
		ID:           strconv.FormatInt(token.AccountID, 10),
		UserID:       auth.UserID(c),
		Token:        token.AccessToken,
		Provider:     "Aurinko",
		EmailAddress: details.Email,
		Name:         details.Name,
	}
	if err := s.store.UpsertAccount(c.Request.Context(), account); err != nil {
		s.log.WithError(err).Error("account upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.syncs.StartInitial(&account)

	if s.cfg.WebhookNotificationURL != "" {
		go s.registerWebhook(account)
	}

	c.Redirect(http.StatusFound, "/mail")
}

// registerWebhook subscribes the linked account to change notifications.
// Fire-and-forget: a failure only delays updates until the next manual sync.
func (s *Server) registerWebhook(account store.Account) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred := provider.Credential(account.Token)

	hooks, err := s.provider.ListWebhooks(ctx, cred)
	if err == nil {
		for _, h := range hooks {
			if h.NotificationURL == s.cfg.WebhookNotificationURL {
				return
			}
		}
	}

	if _, err := s.provider.CreateWebhook(ctx, cred, s.cfg.WebhookNotificationURL); err != nil {
		s.log.WithError(err).WithField("account", account.ID).Warn("webhook registration failed")
	}
}

// unregisterWebhook removes the account's notification subscription on
// unlink. Best effort; a dangling subscription only produces 404 lookups.
func (s *Server) unregisterWebhook(account store.Account) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred := provider.Credential(account.Token)

	hooks, err := s.provider.ListWebhooks(ctx, cred)
	if err != nil {
		return
	}
	for _, h := range hooks {
		if h.NotificationURL != s.cfg.WebhookNotificationURL {
			continue
		}
		if err := s.provider.DeleteWebhook(ctx, cred, h.ID); err != nil {
			s.log.WithError(err).WithField("account", account.ID).Warn("webhook removal failed")
		}
	}
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.store.AccountsByUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.log.WithError(err).Error("list accounts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	if s.cfg.WebhookNotificationURL != "" {
		go s.unregisterWebhook(*account)
	}

	if err := s.store.DeleteAccount(c.Request.Context(), account.ID); err != nil {
		s.log.WithError(err).Error("delete account failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListThreads(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	done := c.Query("done") == "true"
	threads, err := s.store.ListThreads(c.Request.Context(), account.ID, c.Query("tab"), done, s.cfg.ThreadPageSize)
	if err != nil {
		s.log.WithError(err).Error("list threads failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, threads)
}

func (s *Server) handleCountThreads(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	n, err := s.store.CountThreads(c.Request.Context(), account.ID, c.Query("tab"))
	if err != nil {
		s.log.WithError(err).Error("count threads failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) handleGetThread(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	thread, err := s.store.ThreadWithEmails(c.Request.Context(), account.ID, c.Param("threadId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		s.log.WithError(err).Error("load thread failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, thread)
}

// replyDetails is the computed recipient set for a reply composer.
type replyDetails struct {
	To      []store.Address       `json:"to"`
	Cc      []store.Address       `json:"cc"`
	From    provider.EmailAddress `json:"from"`
	Subject string                `json:"subject"`
	ID      string                `json:"id"`
}

// handleReplyDetails computes reply recipients from the last email in the
// thread not sent by the account owner.
func (s *Server) handleReplyDetails(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	thread, err := s.store.ThreadWithEmails(c.Request.Context(), account.ID, c.Param("threadId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		s.log.WithError(err).Error("load thread failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ownAddress := strings.ToLower(account.EmailAddress)

	var last *store.Email
	for i := len(thread.Emails) - 1; i >= 0; i-- {
		if thread.Emails[i].From.Addr != ownAddress {
			last = &thread.Emails[i]
			break
		}
	}
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no external email in thread"})
		return
	}

	details := replyDetails{
		From:    provider.EmailAddress{Name: account.Name, Address: account.EmailAddress},
		Subject: last.Subject,
		ID:      last.InternetMessageID,
		To:      []store.Address{last.From},
		Cc:      []store.Address{},
	}

	if c.Query("type") == "replyAll" {
		for _, a := range last.To {
			if a.Addr != ownAddress {
				details.To = append(details.To, a)
			}
		}
		for _, a := range last.Cc {
			if a.Addr != ownAddress {
				details.Cc = append(details.Cc, a)
			}
		}
	}

	c.JSON(http.StatusOK, details)
}

type doneRequest struct {
	ThreadIDs []string `json:"threadIds" binding:"required"`
}

func (s *Server) handleSetDone(done bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := s.gate(c)
		if account == nil {
			return
		}

		var req doneRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.store.SetThreadsDone(c.Request.Context(), account.ID, req.ThreadIDs, done); err != nil {
			s.log.WithError(err).Error("set done failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleSync triggers an incremental sync within the request's lifetime and
// reports the outcome. The cursor is untouched when the cycle fails.
func (s *Server) handleSync(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	if err := s.syncs.RunIncremental(c.Request.Context(), account); err != nil {
		switch {
		case errors.Is(err, sync.ErrSyncRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
		case errors.Is(err, sync.ErrMissingCursor):
			c.JSON(http.StatusConflict, gin.H{"error": "initial sync has not completed"})
		default:
			s.log.WithError(err).WithField("account", account.ID).Error("sync failed")
			s.providerError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": true})
}

func (s *Server) handleSendEmail(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	var draft provider.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(draft.To) == 0 || draft.From.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and at least one to recipient are required"})
		return
	}

	result, err := s.provider.SendMessage(c.Request.Context(), provider.Credential(account.Token), draft)
	if err != nil {
		s.log.WithError(err).WithField("account", account.ID).Error("send failed")
		s.providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetMessage(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	msg, err := s.provider.FetchMessage(c.Request.Context(), provider.Credential(account.Token), c.Param("messageId"))
	if err != nil {
		s.providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleSearchAddresses(c *gin.Context) {
	account := s.gate(c)
	if account == nil {
		return
	}

	addrs, err := s.store.SearchAddresses(c.Request.Context(), account.ID, c.Query("q"), s.cfg.AddressPageSize)
	if err != nil {
		s.log.WithError(err).Error("address search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, addrs)
}
