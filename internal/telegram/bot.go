// Package telegram connects the relay to the Telegram Bot API. It turns
// updates into relay events, delivers replies, and downloads uploaded
// documents.
package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/relay"
)

// ErrNotChat is returned when a reply target is not a numeric chat id.
var ErrNotChat = errors.New("identity is not a telegram chat id")

// Handler receives relay events.
type Handler interface {
	Handle(ctx context.Context, ev relay.Event) error
}

// Config holds the settings of a Bot.
type Config struct {
	Token string
	// APIEndpoint and FileEndpoint are format strings taking the token and
	// a method or file path. Empty values use the public Bot API.
	APIEndpoint  string
	FileEndpoint string
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// WebhookURL is the public URL registered with Telegram in webhook mode.
	WebhookURL string
	// WebhookSecret is registered as the webhook's secret_token. Webhook
	// requests that do not carry it are rejected.
	WebhookSecret string
	// MaxFileBytes caps document downloads; zero disables the cap.
	MaxFileBytes int64
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Bot is a Telegram Bot API client.
type Bot struct {
	api          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
	pollTimeout  int
	webhookURL   string
	secret       string
	maxFileBytes int64
	logger       *slog.Logger
	connected    atomic.Bool
}

// New connects to the Bot API and verifies the token.
func New(cfg Config) (*Bot, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	apiEndpoint := cfg.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	fileEndpoint := cfg.FileEndpoint
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}

	_ = tgbotapi.SetLogger(botLogger{logger: logger.With(slog.String("component", "tgbotapi"))})

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	b := &Bot{
		api:          api,
		client:       client,
		fileEndpoint: fileEndpoint,
		pollTimeout:  cfg.PollTimeout,
		webhookURL:   cfg.WebhookURL,
		secret:       cfg.WebhookSecret,
		maxFileBytes: cfg.MaxFileBytes,
		logger:       logger,
	}
	b.connected.Store(true)
	logger.Info("telegram bot connected", slog.String("username", api.Self.UserName))
	return b, nil
}

// Username returns the bot's Telegram username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Ready reports whether the bot is connected and receiving updates.
func (b *Bot) Ready() bool {
	return b.connected.Load()
}

// Notify sends text to the chat named by to.
func (b *Bot) Notify(ctx context.Context, to identity.Identity, text string) error {
	chatID, ok := to.Int64()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotChat, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// Fetch downloads the document identified by ref. Documents larger than
// MaxFileBytes fail with relay.ErrTooLarge.
func (b *Bot) Fetch(ctx context.Context, ref string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: ref})
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", ref, err)
	}
	if b.maxFileBytes > 0 && int64(file.FileSize) > b.maxFileBytes {
		return nil, relay.ErrTooLarge
	}

	url := fmt.Sprintf(b.fileEndpoint, b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if b.maxFileBytes > 0 {
		body = io.LimitReader(resp.Body, b.maxFileBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if b.maxFileBytes > 0 && int64(len(data)) > b.maxFileBytes {
		return nil, relay.ErrTooLarge
	}
	return data, nil
}

// Run long-polls for updates and hands them to h until ctx is canceled.
func (b *Bot) Run(ctx context.Context, h Handler) error {
	// A registered webhook makes getUpdates fail.
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram polling started", slog.Int("timeout", b.pollTimeout))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.connected.Store(false)
			return nil
		case update, ok := <-updates:
			if !ok {
				b.connected.Store(false)
				return nil
			}
			b.handle(ctx, h, update)
		}
	}
}

// RegisterWebhook points Telegram at the configured webhook URL and secret.
func (b *Bot) RegisterWebhook(ctx context.Context) error {
	if b.webhookURL == "" {
		return errors.New("webhook url is not configured")
	}
	if b.secret == "" {
		return errors.New("webhook secret is not configured")
	}
	wh, err := tgbotapi.NewWebhook(b.webhookURL)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	// WebhookConfig has no secret_token field, so the call is made directly.
	params := tgbotapi.Params{
		"url":          wh.URL.String(),
		"secret_token": b.secret,
	}
	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	b.logger.Info("telegram webhook registered", slog.String("url", b.webhookURL))
	return nil
}

// SecretHeader carries the webhook secret on every update Telegram posts.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler returns an http.Handler that accepts update posts from
// Telegram and hands them to h. Requests without the configured secret are
// rejected with 401 before the body is read.
func (b *Bot) WebhookHandler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			b.logger.Warn("webhook request rejected", slog.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.logger.Debug("bad webhook request", slog.String("error", err.Error()))
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		b.handle(r.Context(), h, *update)
		w.WriteHeader(http.StatusOK)
	})
}

// authorized reports whether r carries the webhook secret. Without a
// configured secret nothing is accepted.
func (b *Bot) authorized(r *http.Request) bool {
	if b.secret == "" {
		return false
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) == 1
}

func (b *Bot) handle(ctx context.Context, h Handler, update tgbotapi.Update) {
	ev, ok := EventFromUpdate(update)
	if !ok {
		return
	}
	if err := h.Handle(ctx, ev); err != nil {
		b.logger.Debug("event not completed",
			slog.String("identity", ev.From.String()),
			slog.String("command", ev.Command),
			slog.String("error", err.Error()))
	}
}

// EventFromUpdate converts a Telegram update into a relay event. Only
// commands and documents are routed; ok is false for anything else.
func EventFromUpdate(update tgbotapi.Update) (ev relay.Event, ok bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return relay.Event{}, false
	}
	ev.From = identity.FromInt64(m.Chat.ID)

	switch {
	case m.Document != nil:
		ev.Document = &relay.Document{
			FileRef:  m.Document.FileID,
			FileName: m.Document.FileName,
			Size:     int64(m.Document.FileSize),
		}
	case m.IsCommand():
		ev.Command = m.Command()
		ev.Args = m.CommandArguments()
	default:
		return relay.Event{}, false
	}
	return ev, true
}

// botLogger routes the Bot API library's log output through slog.
type botLogger struct {
	logger *slog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Warn(fmt.Sprint(v...))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}
