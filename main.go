package main

import (
	"github.com/sirupsen/logrus"

	"github.com/mailbridge/mailbridge/internal/api"
	"github.com/mailbridge/mailbridge/internal/auth"
	"github.com/mailbridge/mailbridge/internal/config"
	natsjs "github.com/mailbridge/mailbridge/internal/nats"
	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
	"github.com/mailbridge/mailbridge/internal/sync"
	"github.com/mailbridge/mailbridge/internal/webhook"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()

	verifier, err := auth.NewVerifier(cfg.JWKSURL)
	if err != nil {
		log.WithError(err).Fatal("initialize JWT verifier")
	}

	publisher, err := natsjs.NewPublisher(cfg.NATSURL)
	if err != nil {
		// Sync still works without the event stream; outbox entries queue up
		// until a publisher is available on the next start.
		log.WithError(err).Warn("NATS unavailable, events will stay queued")
		publisher = nil
	}
	if publisher != nil {
		defer publisher.Close()
	}

	pc := provider.New(cfg.ProviderBaseURL, cfg.ProviderClientID, cfg.ProviderClientSecret, log)

	runner := &sync.Runner{
		API:             pc,
		Store:           st,
		Reconciler:      &sync.Reconciler{Store: st, Log: log},
		Log:             log,
		WindowDays:      cfg.SyncWindowDays,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
	}
	if publisher != nil {
		runner.Publisher = publisher
	}

	manager := sync.NewManager(runner, log)

	hook := webhook.NewHandler(cfg.WebhookSigningSecret, st, manager, log)

	server := api.NewServer(cfg, st, pc, manager, log)
	router := server.Router(verifier, hook)

	log.WithField("addr", cfg.ListenAddr).Info("listening")
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
