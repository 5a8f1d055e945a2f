package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	twilio "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the subset of the Twilio API used here.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Twilio sends SMS through the Twilio Messages API.
type Twilio struct {
	api                 messageCreator
	from                string
	messagingServiceSID string
}

// TwilioConfig configures a Twilio sender.
type TwilioConfig struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
}

// NewTwilio creates a Twilio sender. Either From or MessagingServiceSID
// must be set.
func NewTwilio(cfg TwilioConfig) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio account_sid and auth_token are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(client.Api, cfg)
}

func newTwilio(api messageCreator, cfg TwilioConfig) (*Twilio, error) {
	if cfg.From == "" && cfg.MessagingServiceSID == "" {
		return nil, errors.New("twilio from or messaging_service_sid is required")
	}
	return &Twilio{
		api:                 api,
		from:                cfg.From,
		messagingServiceSID: cfg.MessagingServiceSID,
	}, nil
}

// Send creates one message. The confirmation id is the message SID.
func (t *Twilio) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", permanent(msg.To, ErrEmptyAddress)
	}
	if err := ctx.Err(); err != nil {
		return "", temporary(msg.To, err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetBody(msg.Body)
	if t.messagingServiceSID != "" {
		params.SetMessagingServiceSid(t.messagingServiceSID)
	} else {
		params.SetFrom(t.from)
	}

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return "", classifyTwilio(msg.To, err)
	}
	if resp == nil || resp.Sid == nil {
		return "", temporary(msg.To, errors.New("twilio returned no message sid"))
	}
	return *resp.Sid, nil
}

// classifyTwilio treats 4xx responses other than 429 as permanent.
func classifyTwilio(addr string, err error) error {
	var te *twclient.TwilioRestError
	if errors.As(err, &te) {
		wrapped := fmt.Errorf("twilio error %d: %s", te.Code, te.Message)
		if te.Status >= 400 && te.Status < 500 && te.Status != http.StatusTooManyRequests {
			return permanent(addr, wrapped)
		}
		return temporary(addr, wrapped)
	}
	return temporary(addr, err)
}
