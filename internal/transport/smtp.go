package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/infodancer/relayd/internal/config"
)

// SMTP security modes.
const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"
)

// SMTPConfig configures an SMTP sender.
type SMTPConfig struct {
	Address   string // host:port
	Hostname  string // Message-ID host; EHLO name except under STARTTLS
	Security  string
	Username  string
	Password  string
	From      string
	Subject   string
	TLSConfig *tls.Config // nil uses ServerName from Address
	DKIM      config.DKIMConfig
	Logger    *slog.Logger
}

// SMTP submits each message in its own SMTP session.
type SMTP struct {
	cfg    SMTPConfig
	dialer net.Dialer
	signer *dkimSigner
	now    func() time.Time
	logger *slog.Logger
}

// NewSMTP creates an SMTP sender. The DKIM key, if configured, is loaded
// here so a bad key fails at startup.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Address == "" {
		return nil, errors.New("smtp address is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from is required")
	}
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &SMTP{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: 30 * time.Second},
		now:    time.Now,
		logger: logger,
	}
	if cfg.DKIM.Enabled() {
		signer, err := loadDKIMSigner(cfg.DKIM.Domain, cfg.DKIM.Selector, cfg.DKIM.KeyFile)
		if err != nil {
			return nil, err
		}
		s.signer = signer
	}
	return s, nil
}

// Send delivers msg to msg.To. The confirmation id is the Message-ID.
func (s *SMTP) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", permanent(msg.To, ErrEmptyAddress)
	}

	id := newMessageID(s.cfg.Hostname)
	data := buildMessage(mailHeader{
		From:    s.cfg.From,
		To:      msg.To,
		Subject: s.cfg.Subject,
		Date:    s.now(),
		ID:      id,
	}, msg.Body)

	if s.signer != nil {
		signed, err := s.signer.sign(data)
		if err != nil {
			return "", temporary(msg.To, fmt.Errorf("dkim sign: %w", err))
		}
		data = signed
	}

	c, err := s.connect(ctx)
	if err != nil {
		return "", temporary(msg.To, err)
	}
	defer func() { _ = c.Close() }()

	if err := c.SendMail(s.cfg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return "", classifySMTP(msg.To, err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit failed", slog.String("error", err.Error()))
	}
	return id, nil
}

func (s *SMTP) connect(ctx context.Context) (*smtp.Client, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("smtp connect to %s: %w", s.cfg.Address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := s.tlsConfig()
	if s.cfg.Security == SecurityTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	var c *smtp.Client
	if s.cfg.Security == SecurityStartTLS {
		// NewClientStartTLS sends its own EHLO before upgrading.
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	} else {
		c = smtp.NewClient(conn)
		if err := c.Hello(s.cfg.Hostname); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("smtp hello: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return c, nil
}

func (s *SMTP) tlsConfig() *tls.Config {
	if s.cfg.TLSConfig != nil {
		return s.cfg.TLSConfig
	}
	host, _, err := net.SplitHostPort(s.cfg.Address)
	if err != nil {
		host = s.cfg.Address
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// classifySMTP marks 5xx replies as permanent.
func classifySMTP(addr string, err error) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code >= 500 {
		return permanent(addr, err)
	}
	return temporary(addr, err)
}
