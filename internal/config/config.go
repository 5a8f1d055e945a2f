// Package config provides configuration management for the relay.
package config

import (
	"errors"
	"fmt"
	"time"
)

// MinSendInterval is the lowest inter-send spacing the relay accepts.
// Outbound providers throttle senders that go faster than one message a second.
const MinSendInterval = time.Second

// Registry storage backends.
const (
	RegistryFile   = "file"
	RegistryRedis  = "redis"
	RegistrySqlite = "sqlite"
)

// Dispatch lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Telegram update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Outbound transport types.
const (
	TransportTwilio  = "twilio"
	TransportSES     = "ses"
	TransportSMTP    = "smtp"
	TransportHTTP    = "http"
	TransportMaildir = "maildir"
	TransportLog     = "log"
)

// Screening fail modes.
const (
	FailOpen   = "open"
	FailReject = "reject"
)

// FileConfig is the top-level wrapper for the configuration file.
type FileConfig struct {
	Relayd Config `toml:"relayd"`
}

// Config holds the complete relay configuration.
type Config struct {
	AdminID      string          `toml:"admin_id" env:"RELAYD_ADMIN_ID"`
	LogLevel     string          `toml:"log_level" env:"RELAYD_LOG_LEVEL"`
	LogAddresses bool            `toml:"log_addresses" env:"RELAYD_LOG_ADDRESSES"`
	Telegram     TelegramConfig  `toml:"telegram"`
	Registry     RegistryConfig  `toml:"registry"`
	Uploads      UploadsConfig   `toml:"uploads"`
	Dispatch     DispatchConfig  `toml:"dispatch"`
	Transport    TransportConfig `toml:"transport"`
	Screening    ScreeningConfig `toml:"screening"`
	HTTP         HTTPConfig      `toml:"http"`
}

// TelegramConfig holds bot API settings.
type TelegramConfig struct {
	Token       string `toml:"token" env:"RELAYD_TELEGRAM_TOKEN"`
	Mode        string `toml:"mode" env:"RELAYD_TELEGRAM_MODE"`
	WebhookURL  string `toml:"webhook_url" env:"RELAYD_TELEGRAM_WEBHOOK_URL"`
	WebhookPath string `toml:"webhook_path"`
	// WebhookSecret is registered with Telegram and must accompany every
	// webhook delivery. 1-256 characters from A-Z, a-z, 0-9, _ and -.
	WebhookSecret string `toml:"webhook_secret" env:"RELAYD_TELEGRAM_WEBHOOK_SECRET"`
	PollTimeout   int    `toml:"poll_timeout"`
}

// RegistryConfig selects where approved identities are persisted.
type RegistryConfig struct {
	Backend  string `toml:"backend" env:"RELAYD_REGISTRY_BACKEND"`
	Path     string `toml:"path" env:"RELAYD_REGISTRY_PATH"`
	RedisURL string `toml:"redis_url" env:"RELAYD_REDIS_URL"`
	RedisKey string `toml:"redis_key"`
}

// UploadsConfig limits recipient list uploads.
type UploadsConfig struct {
	MaxBytes int64 `toml:"max_bytes"`
}

// DispatchConfig controls the send loop.
type DispatchConfig struct {
	Interval      string `toml:"interval" env:"RELAYD_DISPATCH_INTERVAL"`
	SendTimeout   string `toml:"send_timeout"`
	Lock          string `toml:"lock"`
	LockTTL       string `toml:"lock_ttl"`
	ProgressEvery int    `toml:"progress_every"`
}

// TransportConfig selects and configures the outbound provider.
type TransportConfig struct {
	Type    string            `toml:"type" env:"RELAYD_TRANSPORT"`
	Twilio  TwilioConfig      `toml:"twilio"`
	SES     SESConfig         `toml:"ses"`
	SMTP    SMTPConfig        `toml:"smtp"`
	HTTP    HTTPGatewayConfig `toml:"http"`
	Maildir MaildirConfig     `toml:"maildir"`
}

// TwilioConfig holds Twilio Messages API credentials.
type TwilioConfig struct {
	AccountSID          string `toml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken           string `toml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	From                string `toml:"from" env:"TWILIO_PHONE_NUMBER"`
	MessagingServiceSID string `toml:"messaging_service_sid"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region    string `toml:"region" env:"RELAYD_SES_REGION"`
	AccessKey string `toml:"access_key" env:"RELAYD_SES_ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"RELAYD_SES_SECRET_KEY"`
	From      string `toml:"from"`
	Subject   string `toml:"subject"`
}

// SMTPConfig holds outbound SMTP submission settings.
type SMTPConfig struct {
	Address  string     `toml:"address"`
	Hostname string     `toml:"hostname"`
	Security string     `toml:"security"` // starttls, tls, none
	Username string     `toml:"username" env:"RELAYD_SMTP_USERNAME"`
	Password string     `toml:"password" env:"RELAYD_SMTP_PASSWORD"`
	From     string     `toml:"from"`
	Subject  string     `toml:"subject"`
	DKIM     DKIMConfig `toml:"dkim"`
}

// DKIMConfig enables DKIM signing of SMTP transport messages.
type DKIMConfig struct {
	Domain   string `toml:"domain"`
	Selector string `toml:"selector"`
	KeyFile  string `toml:"key_file"`
}

// Enabled reports whether DKIM signing is configured.
func (d DKIMConfig) Enabled() bool {
	return d.Domain != "" && d.Selector != "" && d.KeyFile != ""
}

// HTTPGatewayConfig configures a generic form-POST SMS gateway.
type HTTPGatewayConfig struct {
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key" env:"RELAYD_GATEWAY_API_KEY"`
	Sender  string `toml:"sender"`
	Timeout string `toml:"timeout"`
}

// MaildirConfig configures local maildir delivery.
type MaildirConfig struct {
	Path string `toml:"path"`
	From string `toml:"from"`
}

// ScreeningConfig configures the pre-dispatch content check.
type ScreeningConfig struct {
	Enabled         bool    `toml:"enabled"`
	RspamdURL       string  `toml:"rspamd_url" env:"RELAYD_RSPAMD_URL"`
	Password        string  `toml:"password" env:"RELAYD_RSPAMD_PASSWORD"`
	Timeout         string  `toml:"timeout"`
	FailMode        string  `toml:"fail_mode"`
	RejectThreshold float64 `toml:"reject_threshold"`
}

// HTTPConfig configures the health/metrics/webhook listener.
type HTTPConfig struct {
	Enabled     bool   `toml:"enabled"`
	Address     string `toml:"address" env:"RELAYD_HTTP_ADDRESS"`
	MetricsPath string `toml:"metrics_path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		LogLevel: "info",
		Telegram: TelegramConfig{
			Mode:        ModePolling,
			WebhookPath: "/telegram/webhook",
			PollTimeout: 60,
		},
		Registry: RegistryConfig{
			Backend:  RegistryFile,
			Path:     "./approved_users.json",
			RedisKey: "relayd:approved",
		},
		Uploads: UploadsConfig{
			MaxBytes: 1 << 20, // 1 MiB
		},
		Dispatch: DispatchConfig{
			Interval:    "1s",
			SendTimeout: "30s",
			Lock:        LockLocal,
			LockTTL:     "10m",
		},
		Transport: TransportConfig{
			Type: TransportLog,
			SMTP: SMTPConfig{
				Security: "starttls",
				Subject:  "Notification",
			},
			SES: SESConfig{
				Region:  "us-east-1",
				Subject: "Notification",
			},
			HTTP: HTTPGatewayConfig{
				Timeout: "10s",
			},
		},
		Screening: ScreeningConfig{
			Timeout:  "10s",
			FailMode: FailOpen,
		},
		HTTP: HTTPConfig{
			Enabled:     true,
			Address:     ":5000",
			MetricsPath: "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
// It does not require credentials; see ValidateServe.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case RegistryFile, RegistrySqlite:
		if c.Registry.Path == "" {
			return fmt.Errorf("registry path is required for %s backend", c.Registry.Backend)
		}
	case RegistryRedis:
		if c.Registry.RedisURL == "" {
			return errors.New("registry redis_url is required for redis backend")
		}
	default:
		return fmt.Errorf("invalid registry backend %q", c.Registry.Backend)
	}

	if c.Dispatch.Interval != "" {
		d, err := time.ParseDuration(c.Dispatch.Interval)
		if err != nil {
			return fmt.Errorf("invalid dispatch interval: %w", err)
		}
		if d < MinSendInterval {
			return fmt.Errorf("dispatch interval %s is below the minimum of %s", d, MinSendInterval)
		}
	}
	if c.Dispatch.SendTimeout != "" {
		if _, err := time.ParseDuration(c.Dispatch.SendTimeout); err != nil {
			return fmt.Errorf("invalid dispatch send_timeout: %w", err)
		}
	}
	if c.Dispatch.LockTTL != "" {
		if _, err := time.ParseDuration(c.Dispatch.LockTTL); err != nil {
			return fmt.Errorf("invalid dispatch lock_ttl: %w", err)
		}
	}
	switch c.Dispatch.Lock {
	case LockLocal:
	case LockRedis:
		if c.Registry.RedisURL == "" {
			return errors.New("redis dispatch lock requires registry redis_url")
		}
	default:
		return fmt.Errorf("invalid dispatch lock %q", c.Dispatch.Lock)
	}
	if c.Dispatch.ProgressEvery < 0 {
		return errors.New("dispatch progress_every must not be negative")
	}

	if c.Uploads.MaxBytes <= 0 {
		return errors.New("uploads max_bytes must be positive")
	}

	if !isValidTransport(c.Transport.Type) {
		return fmt.Errorf("invalid transport type %q", c.Transport.Type)
	}

	switch c.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if !c.HTTP.Enabled {
			return errors.New("webhook mode requires the http listener")
		}
		if c.Telegram.WebhookPath == "" {
			return errors.New("telegram webhook_path is required in webhook mode")
		}
	default:
		return fmt.Errorf("invalid telegram mode %q", c.Telegram.Mode)
	}

	if c.Screening.Enabled {
		if c.Screening.RspamdURL == "" {
			return errors.New("screening rspamd_url is required when screening is enabled")
		}
		if c.Screening.FailMode != FailOpen && c.Screening.FailMode != FailReject {
			return fmt.Errorf("invalid screening fail_mode %q", c.Screening.FailMode)
		}
	}

	if c.HTTP.Enabled {
		if c.HTTP.Address == "" {
			return errors.New("http address is required when the listener is enabled")
		}
		if c.HTTP.MetricsPath == "" {
			return errors.New("http metrics_path is required when the listener is enabled")
		}
	}
	return nil
}

// ValidateServe performs Validate plus the checks needed to run the bot.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.AdminID == "" {
		return errors.New("admin_id is required")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram token is required")
	}
	if c.Telegram.Mode == ModeWebhook {
		if c.Telegram.WebhookURL == "" {
			return errors.New("telegram webhook_url is required in webhook mode")
		}
		if err := validateWebhookSecret(c.Telegram.WebhookSecret); err != nil {
			return err
		}
	}
	return c.validateTransportCredentials()
}

func validateWebhookSecret(secret string) error {
	if secret == "" {
		return errors.New("telegram webhook_secret is required in webhook mode")
	}
	if len(secret) > 256 {
		return errors.New("telegram webhook_secret is longer than 256 characters")
	}
	for _, r := range secret {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("telegram webhook_secret contains invalid character %q", r)
		}
	}
	return nil
}

func (c *Config) validateTransportCredentials() error {
	t := c.Transport
	switch t.Type {
	case TransportTwilio:
		if t.Twilio.AccountSID == "" || t.Twilio.AuthToken == "" {
			return errors.New("twilio account_sid and auth_token are required")
		}
		if t.Twilio.From == "" && t.Twilio.MessagingServiceSID == "" {
			return errors.New("twilio from or messaging_service_sid is required")
		}
	case TransportSES:
		if t.SES.From == "" {
			return errors.New("ses from is required")
		}
	case TransportSMTP:
		if t.SMTP.Address == "" || t.SMTP.From == "" {
			return errors.New("smtp address and from are required")
		}
		switch t.SMTP.Security {
		case "starttls", "tls", "none":
		default:
			return fmt.Errorf("invalid smtp security %q", t.SMTP.Security)
		}
	case TransportHTTP:
		if t.HTTP.URL == "" {
			return errors.New("http gateway url is required")
		}
	case TransportMaildir:
		if t.Maildir.Path == "" {
			return errors.New("maildir path is required")
		}
	}
	return nil
}

// SendInterval returns the inter-send spacing as a time.Duration.
// Returns 1 second if not configured or invalid.
func (c *DispatchConfig) SendInterval() time.Duration {
	return parseDurationOr(c.Interval, time.Second)
}

// SendTimeoutDuration returns the per-send timeout.
// Returns 30 seconds if not configured or invalid.
func (c *DispatchConfig) SendTimeoutDuration() time.Duration {
	return parseDurationOr(c.SendTimeout, 30*time.Second)
}

// LockTTLDuration returns the dispatch lock lease.
// Returns 10 minutes if not configured or invalid.
func (c *DispatchConfig) LockTTLDuration() time.Duration {
	return parseDurationOr(c.LockTTL, 10*time.Minute)
}

// TimeoutDuration returns the rspamd request timeout.
// Returns 10 seconds if not configured or invalid.
func (c *ScreeningConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

// TimeoutDuration returns the gateway request timeout.
// Returns 10 seconds if not configured or invalid.
func (c *HTTPGatewayConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func isValidTransport(t string) bool {
	switch t {
	case TransportTwilio, TransportSES, TransportSMTP, TransportHTTP, TransportMaildir, TransportLog:
		return true
	default:
		return false
	}
}
