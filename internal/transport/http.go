package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPGatewayConfig configures a form-POST SMS gateway.
type HTTPGatewayConfig struct {
	URL     string
	APIKey  string // sent as a bearer token when set
	Sender  string
	Timeout time.Duration
}

// HTTPGateway posts each message to a generic SMS gateway.
//
// The request is application/x-www-form-urlencoded with fields to, from
// and message. Any 2xx reply is success.
type HTTPGateway struct {
	url        string
	apiKey     string
	sender     string
	httpClient *http.Client
}

// NewHTTPGateway creates an HTTPGateway.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		sender: cfg.Sender,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type gatewayResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

// Send posts msg. The confirmation id comes from the reply's id or
// message_id field, falling back to the request id.
func (g *HTTPGateway) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", permanent(msg.To, ErrEmptyAddress)
	}

	form := url.Values{}
	form.Set("to", msg.To)
	form.Set("message", msg.Body)
	if g.sender != "" {
		form.Set("from", g.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", permanent(msg.To, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Request-Id", requestID)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", temporary(msg.To, fmt.Errorf("gateway request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", temporary(msg.To, fmt.Errorf("read gateway response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", permanent(msg.To, err)
		}
		return "", temporary(msg.To, err)
	}

	var parsed gatewayResponse
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.ID != "" {
			return parsed.ID, nil
		}
		if parsed.MessageID != "" {
			return parsed.MessageID, nil
		}
	}
	return requestID, nil
}
