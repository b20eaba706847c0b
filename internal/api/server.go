package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mailbridge/mailbridge/internal/auth"
	"github.com/mailbridge/mailbridge/internal/config"
	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
	"github.com/mailbridge/mailbridge/internal/sync"
	"github.com/mailbridge/mailbridge/internal/webhook"
)

// Server owns the HTTP surface: the authenticated mail API, the provider
// callback, and the webhook endpoint.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	provider *provider.Client
	syncs    *sync.Manager
	log      *logrus.Entry
}

// NewServer wires the API handlers.
func NewServer(cfg *config.Config, st *store.Store, pc *provider.Client, syncs *sync.Manager, log *logrus.Entry) *Server {
	return &Server{cfg: cfg, store: st, provider: pc, syncs: syncs, log: log}
}

// Router builds the gin engine. The webhook endpoint is unauthenticated (it
// carries its own signature); everything else sits behind the JWT middleware.
func (s *Server) Router(verifier *auth.Verifier, hook *webhook.Handler) *gin.Engine {
	r := gin.Default()

	r.POST("/api/webhooks/mail", hook.Handle)

	authorized := r.Group("/api")
	authorized.Use(verifier.Middleware())

	authorized.GET("/auth/callback", s.handleCallback)

	authorized.GET("/accounts", s.handleListAccounts)
	authorized.GET("/accounts/:id", s.handleGetAccount)
	authorized.DELETE("/accounts/:id", s.handleDeleteAccount)

	authorized.GET("/accounts/:id/threads", s.handleListThreads)
	authorized.GET("/accounts/:id/threads/count", s.handleCountThreads)
	authorized.GET("/accounts/:id/threads/:threadId", s.handleGetThread)
	authorized.GET("/accounts/:id/threads/:threadId/reply", s.handleReplyDetails)
	authorized.POST("/accounts/:id/threads/done", s.handleSetDone(true))
	authorized.POST("/accounts/:id/threads/undone", s.handleSetDone(false))

	authorized.POST("/accounts/:id/sync", s.handleSync)
	authorized.POST("/accounts/:id/messages", s.handleSendEmail)
	authorized.GET("/accounts/:id/messages/:messageId", s.handleGetMessage)
	authorized.GET("/accounts/:id/addresses", s.handleSearchAddresses)

	return r
}
