package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries all runtime settings. Every component receives the values it
// needs through its constructor; nothing reads viper after startup.
type Config struct {
	ListenAddr string

	DatabasePath string

	ProviderBaseURL      string
	ProviderClientID     string
	ProviderClientSecret string

	WebhookSigningSecret   string
	WebhookNotificationURL string

	JWKSURL string

	NATSURL string

	SyncWindowDays  int
	PollInterval    time.Duration
	PollMaxAttempts int
	ThreadPageSize  int
	AddressPageSize int
}

// Load reads configuration from config.yaml (working directory) and the
// environment. Environment variables override file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("MAILBRIDGE")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database.path", "data/mailbridge.db")
	v.SetDefault("provider.base_url", "https://api.aurinko.io/v1")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("sync.window_days", 3)
	v.SetDefault("sync.poll_interval", "1s")
	v.SetDefault("sync.poll_max_attempts", 60)
	v.SetDefault("api.thread_page_size", 15)
	v.SetDefault("api.address_page_size", 10)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		ListenAddr:             v.GetString("listen_addr"),
		DatabasePath:           v.GetString("database.path"),
		ProviderBaseURL:        v.GetString("provider.base_url"),
		ProviderClientID:       v.GetString("provider.client_id"),
		ProviderClientSecret:   v.GetString("provider.client_secret"),
		WebhookSigningSecret:   v.GetString("webhook.signing_secret"),
		WebhookNotificationURL: v.GetString("webhook.notification_url"),
		JWKSURL:                v.GetString("auth.jwks_url"),
		NATSURL:                v.GetString("nats.url"),
		SyncWindowDays:         v.GetInt("sync.window_days"),
		PollInterval:           v.GetDuration("sync.poll_interval"),
		PollMaxAttempts:        v.GetInt("sync.poll_max_attempts"),
		ThreadPageSize:         v.GetInt("api.thread_page_size"),
		AddressPageSize:        v.GetInt("api.address_page_size"),
	}

	if cfg.ProviderClientID == "" || cfg.ProviderClientSecret == "" {
		return nil, fmt.Errorf("provider.client_id and provider.client_secret must be configured")
	}
	if cfg.WebhookSigningSecret == "" {
		return nil, fmt.Errorf("webhook.signing_secret must be configured")
	}

	return cfg, nil
}
