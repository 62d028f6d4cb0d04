package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/buzzicrm/leadflow/internal/twiliosms"
)

// TwilioService implements the Service interface using the Twilio API.
type TwilioService struct {
	client  twiliosms.Sender
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliosms.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendText sends a message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendText: recipient validation failed", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

// Start is a no-op: Twilio inbound events arrive through the webhook endpoint.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	slog.Info("TwilioService.Stop: service stopped")
	return nil
}
