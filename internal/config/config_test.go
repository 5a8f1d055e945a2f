package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}
	if cfg.Registry.Backend != RegistryFile {
		t.Errorf("expected registry backend 'file', got %q", cfg.Registry.Backend)
	}
	if cfg.Registry.Path != "./approved_users.json" {
		t.Errorf("expected registry path './approved_users.json', got %q", cfg.Registry.Path)
	}
	if cfg.Dispatch.Interval != "1s" {
		t.Errorf("expected dispatch interval '1s', got %q", cfg.Dispatch.Interval)
	}
	if cfg.Dispatch.Lock != LockLocal {
		t.Errorf("expected dispatch lock 'local', got %q", cfg.Dispatch.Lock)
	}
	if cfg.Transport.Type != TransportLog {
		t.Errorf("expected transport 'log', got %q", cfg.Transport.Type)
	}
	if cfg.Telegram.Mode != ModePolling {
		t.Errorf("expected telegram mode 'polling', got %q", cfg.Telegram.Mode)
	}
	if cfg.Uploads.MaxBytes != 1<<20 {
		t.Errorf("expected uploads max_bytes 1048576, got %d", cfg.Uploads.MaxBytes)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Address != ":5000" {
		t.Errorf("expected http listener enabled on :5000, got %+v", cfg.HTTP)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown registry backend",
			modify:  func(c *Config) { c.Registry.Backend = "etcd" },
			wantErr: true,
		},
		{
			name:    "file backend without path",
			modify:  func(c *Config) { c.Registry.Path = "" },
			wantErr: true,
		},
		{
			name:    "redis backend without url",
			modify:  func(c *Config) { c.Registry.Backend = RegistryRedis },
			wantErr: true,
		},
		{
			name: "redis backend with url",
			modify: func(c *Config) {
				c.Registry.Backend = RegistryRedis
				c.Registry.RedisURL = "redis://localhost:6379/0"
			},
			wantErr: false,
		},
		{
			name:    "sqlite backend",
			modify:  func(c *Config) { c.Registry.Backend = RegistrySqlite; c.Registry.Path = "relayd.db" },
			wantErr: false,
		},
		{
			name:    "invalid interval",
			modify:  func(c *Config) { c.Dispatch.Interval = "soon" },
			wantErr: true,
		},
		{
			name:    "interval below minimum",
			modify:  func(c *Config) { c.Dispatch.Interval = "500ms" },
			wantErr: true,
		},
		{
			name:    "longer interval",
			modify:  func(c *Config) { c.Dispatch.Interval = "2s" },
			wantErr: false,
		},
		{
			name:    "invalid send timeout",
			modify:  func(c *Config) { c.Dispatch.SendTimeout = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid lock",
			modify:  func(c *Config) { c.Dispatch.Lock = "zookeeper" },
			wantErr: true,
		},
		{
			name:    "redis lock without redis",
			modify:  func(c *Config) { c.Dispatch.Lock = LockRedis },
			wantErr: true,
		},
		{
			name:    "negative progress",
			modify:  func(c *Config) { c.Dispatch.ProgressEvery = -1 },
			wantErr: true,
		},
		{
			name:    "zero upload limit",
			modify:  func(c *Config) { c.Uploads.MaxBytes = 0 },
			wantErr: true,
		},
		{
			name:    "unknown transport",
			modify:  func(c *Config) { c.Transport.Type = "pigeon" },
			wantErr: true,
		},
		{
			name:    "invalid telegram mode",
			modify:  func(c *Config) { c.Telegram.Mode = "push" },
			wantErr: true,
		},
		{
			name: "webhook mode without http listener",
			modify: func(c *Config) {
				c.Telegram.Mode = ModeWebhook
				c.HTTP.Enabled = false
			},
			wantErr: true,
		},
		{
			name:    "screening without url",
			modify:  func(c *Config) { c.Screening.Enabled = true },
			wantErr: true,
		},
		{
			name: "screening with bad fail mode",
			modify: func(c *Config) {
				c.Screening.Enabled = true
				c.Screening.RspamdURL = "http://localhost:11333"
				c.Screening.FailMode = "maybe"
			},
			wantErr: true,
		},
		{
			name:    "http listener without address",
			modify:  func(c *Config) { c.HTTP.Address = "" },
			wantErr: true,
		},
		{
			name:    "disabled http listener without address",
			modify:  func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Address = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.AdminID = "42"
		cfg.Telegram.Token = "123:abc"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing admin", func(c *Config) { c.AdminID = "" }, true},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, true},
		{"webhook without url", func(c *Config) { c.Telegram.Mode = ModeWebhook }, true},
		{
			"webhook without secret",
			func(c *Config) {
				c.Telegram.Mode = ModeWebhook
				c.Telegram.WebhookURL = "https://relay.example.com/telegram/webhook"
			},
			true,
		},
		{
			"webhook with bad secret",
			func(c *Config) {
				c.Telegram.Mode = ModeWebhook
				c.Telegram.WebhookURL = "https://relay.example.com/telegram/webhook"
				c.Telegram.WebhookSecret = "not allowed!"
			},
			true,
		},
		{
			"webhook with secret",
			func(c *Config) {
				c.Telegram.Mode = ModeWebhook
				c.Telegram.WebhookURL = "https://relay.example.com/telegram/webhook"
				c.Telegram.WebhookSecret = "s3cret_token-1"
			},
			false,
		},
		{"twilio without credentials", func(c *Config) { c.Transport.Type = TransportTwilio }, true},
		{
			"twilio with credentials",
			func(c *Config) {
				c.Transport.Type = TransportTwilio
				c.Transport.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+15550000000"}
			},
			false,
		},
		{"ses without from", func(c *Config) { c.Transport.Type = TransportSES }, true},
		{"smtp without address", func(c *Config) { c.Transport.Type = TransportSMTP }, true},
		{
			"smtp with bad security",
			func(c *Config) {
				c.Transport.Type = TransportSMTP
				c.Transport.SMTP.Address = "mail.example.com:587"
				c.Transport.SMTP.From = "relay@example.com"
				c.Transport.SMTP.Security = "ssl3"
			},
			true,
		},
		{"http gateway without url", func(c *Config) { c.Transport.Type = TransportHTTP }, true},
		{"maildir without path", func(c *Config) { c.Transport.Type = TransportMaildir }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.ValidateServe()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServe() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendInterval(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"1s", time.Second},
		{"2500ms", 2500 * time.Millisecond},
		{"", time.Second},        // default
		{"invalid", time.Second}, // invalid falls back to default
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg := DispatchConfig{Interval: tt.value}
			if got := cfg.SendInterval(); got != tt.expected {
				t.Errorf("SendInterval() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	d := DispatchConfig{}
	if got := d.SendTimeoutDuration(); got != 30*time.Second {
		t.Errorf("SendTimeoutDuration() = %v, want 30s", got)
	}
	if got := d.LockTTLDuration(); got != 10*time.Minute {
		t.Errorf("LockTTLDuration() = %v, want 10m", got)
	}
	s := ScreeningConfig{Timeout: "bogus"}
	if got := s.TimeoutDuration(); got != 10*time.Second {
		t.Errorf("ScreeningConfig.TimeoutDuration() = %v, want 10s", got)
	}
	g := HTTPGatewayConfig{Timeout: "3s"}
	if got := g.TimeoutDuration(); got != 3*time.Second {
		t.Errorf("HTTPGatewayConfig.TimeoutDuration() = %v, want 3s", got)
	}
}

func TestDKIMEnabled(t *testing.T) {
	if (DKIMConfig{Domain: "example.com", Selector: "s1"}).Enabled() {
		t.Error("DKIM without key file should be disabled")
	}
	if !(DKIMConfig{Domain: "example.com", Selector: "s1", KeyFile: "k.pem"}).Enabled() {
		t.Error("fully configured DKIM should be enabled")
	}
}
