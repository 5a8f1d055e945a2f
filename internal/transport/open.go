package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/infodancer/relayd/internal/config"
	"github.com/infodancer/relayd/internal/logging"
)

// Interface assertions.
var (
	_ Sender = (*Twilio)(nil)
	_ Sender = (*SES)(nil)
	_ Sender = (*SMTP)(nil)
	_ Sender = (*HTTPGateway)(nil)
	_ Sender = (*Maildir)(nil)
	_ Sender = (*Log)(nil)
)

// Open creates the Sender selected by cfg.Type.
func Open(ctx context.Context, cfg config.TransportConfig, redactor logging.Redactor, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case config.TransportTwilio:
		return NewTwilio(TwilioConfig{
			AccountSID:          cfg.Twilio.AccountSID,
			AuthToken:           cfg.Twilio.AuthToken,
			From:                cfg.Twilio.From,
			MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
		})
	case config.TransportSES:
		return NewSES(ctx, SESConfig{
			Region:    cfg.SES.Region,
			AccessKey: cfg.SES.AccessKey,
			SecretKey: cfg.SES.SecretKey,
			From:      cfg.SES.From,
			Subject:   cfg.SES.Subject,
		})
	case config.TransportSMTP:
		return NewSMTP(SMTPConfig{
			Address:  cfg.SMTP.Address,
			Hostname: cfg.SMTP.Hostname,
			Security: cfg.SMTP.Security,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Subject:  cfg.SMTP.Subject,
			DKIM:     cfg.SMTP.DKIM,
			Logger:   logger,
		})
	case config.TransportHTTP:
		return NewHTTPGateway(HTTPGatewayConfig{
			URL:     cfg.HTTP.URL,
			APIKey:  cfg.HTTP.APIKey,
			Sender:  cfg.HTTP.Sender,
			Timeout: cfg.HTTP.TimeoutDuration(),
		})
	case config.TransportMaildir:
		return OpenMaildir(cfg.Maildir.Path, cfg.Maildir.From)
	case config.TransportLog, "":
		return NewLog(logger, redactor), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}
