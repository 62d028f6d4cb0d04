// Package twiliosms wraps the Twilio REST API as an alternative outbound
// transport for LeadFlow.
package twiliosms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender is the send capability exposed to the messaging layer.
type Sender interface {
	SendText(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending WhatsApp number ("whatsapp:+1234567890" format).
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// Client wraps the Twilio REST API for WhatsApp text delivery. Credentials
// are injected at construction rather than read from ambient state.
type Client struct {
	client *twilio.RestClient
	from   string
}

// NewClient creates a new Twilio client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("twiliosms.NewClient: config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twiliosms: account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("twiliosms: from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{client: client, from: cfg.From}, nil
}

// SendText sends a WhatsApp message using the Twilio API.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	if body == "" {
		return models.Permanent(fmt.Errorf("twiliosms: message body cannot be empty"))
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(c.from)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("twiliosms.SendText: send failed", "to", to, "error", err)
		return fmt.Errorf("twiliosms: failed to send message to %s: %w", to, err)
	}

	slog.Debug("twiliosms.SendText: message sent", "to", to)
	return nil
}
