// Package zapi wraps the Z-API WhatsApp provider for LeadFlow.
//
// It provides phone number canonicalization, parsing of inbound webhook
// payloads into provider-agnostic messages, and an HTTP client for the
// send-text endpoint.
package zapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/buzzicrm/leadflow/internal/models"
)

// DefaultCountryCode is prepended to phone numbers that arrive without one.
const DefaultCountryCode = "55"

// DefaultRequestTimeout bounds each send-text HTTP call.
const DefaultRequestTimeout = 15 * time.Second

// Opts holds configuration options for the Z-API client.
type Opts struct {
	BaseURL     string
	InstanceID  string
	Token       string
	ClientToken string
	CountryCode string
	HTTPClient  *http.Client
}

// Option defines a configuration option for the Z-API client.
type Option func(*Opts)

// WithBaseURL sets the Z-API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithInstanceID sets the Z-API instance identifier.
func WithInstanceID(id string) Option {
	return func(o *Opts) { o.InstanceID = id }
}

// WithToken sets the Z-API instance token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithClientToken sets the Z-API account client token header value.
func WithClientToken(token string) Option {
	return func(o *Opts) { o.ClientToken = token }
}

// WithCountryCode overrides the default country code used during
// normalization.
func WithCountryCode(code string) Option {
	return func(o *Opts) { o.CountryCode = code }
}

// WithHTTPClient injects a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the Z-API send-text endpoint. Credentials are held by the
// client instance and injected at construction; nothing is read from the
// environment at call time.
type Client struct {
	baseURL     string
	instanceID  string
	token       string
	clientToken string
	countryCode string
	http        *http.Client
}

// NewClient creates a new Z-API client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("zapi.NewClient: options applied",
		"base_url_set", cfg.BaseURL != "",
		"instance_set", cfg.InstanceID != "",
		"token_set", cfg.Token != "",
		"client_token_set", cfg.ClientToken != "")

	if cfg.BaseURL == "" || cfg.InstanceID == "" || cfg.Token == "" || cfg.ClientToken == "" {
		return nil, fmt.Errorf("zapi: base URL, instance ID, token and client token must all be provided")
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		instanceID:  cfg.InstanceID,
		token:       cfg.Token,
		clientToken: cfg.ClientToken,
		countryCode: cfg.CountryCode,
		http:        cfg.HTTPClient,
	}, nil
}

// CountryCode returns the country code the client normalizes against.
func (c *Client) CountryCode() string {
	return c.countryCode
}

// sendTextRequest is the JSON body for the Z-API send-text endpoint.
type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendText sends a plain text message to the given phone number. Rejections
// reported by the provider (HTTP 4xx) are returned as permanent errors;
// connectivity problems and 5xx responses are transient and retryable.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	if strings.TrimSpace(text) == "" {
		return models.Permanent(fmt.Errorf("zapi: %w", errEmptyMessage))
	}

	canonical := NormalizePhoneWithCountry(phone, c.countryCode)
	if canonical == "" {
		return models.Permanent(fmt.Errorf("zapi: no digits in phone %q", phone))
	}

	url := fmt.Sprintf("%s/instances/%s/token/%s/send-text", c.baseURL, c.instanceID, c.token)
	body, err := json.Marshal(sendTextRequest{Phone: canonical, Message: text})
	if err != nil {
		return models.Permanent(fmt.Errorf("zapi: marshal send-text body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.Permanent(fmt.Errorf("zapi: build send-text request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Token", c.clientToken)

	slog.Debug("zapi.SendText: dispatching", "to", canonical, "body_length", len(text))
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("zapi.SendText: request failed", "error", err, "to", canonical)
		return fmt.Errorf("zapi: send-text request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Debug("zapi.SendText: sent", "to", canonical, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("zapi: send-text returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		slog.Error("zapi.SendText: rejected by provider", "error", err, "to", canonical, "status", resp.StatusCode)
		return models.Permanent(err)
	}
	slog.Error("zapi.SendText: provider unavailable", "error", err, "to", canonical, "status", resp.StatusCode)
	return err
}

var errEmptyMessage = fmt.Errorf("message text is empty")
