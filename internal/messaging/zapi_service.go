package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/buzzicrm/leadflow/internal/zapi"
)

// ZAPISender is the subset of the Z-API client the service needs. Tests
// substitute a mock.
type ZAPISender interface {
	SendText(ctx context.Context, phone, text string) error
	CountryCode() string
}

// ZAPIService implements Service using the Z-API HTTP client. Inbound
// messages arrive through the webhook endpoint, so the service itself has no
// background event loop.
type ZAPIService struct {
	client  ZAPISender
	mu      sync.RWMutex
	stopped bool
}

// NewZAPIService creates a new ZAPIService wrapping the given sender.
func NewZAPIService(client ZAPISender) *ZAPIService {
	return &ZAPIService{client: client}
}

// ValidateAndCanonicalizeRecipient validates a phone number and prefixes the
// configured country code, matching the webhook-side normalization so a lead's
// stored phone and the send target always agree.
func (s *ZAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	return zapi.NormalizePhoneWithCountry(canonical, s.client.CountryCode()), nil
}

// SendText sends a message through Z-API.
func (s *ZAPIService) SendText(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("ZAPIService.SendText: recipient validation failed", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

// Start is a no-op: Z-API pushes inbound events to the webhook endpoint.
func (s *ZAPIService) Start(ctx context.Context) error {
	slog.Debug("ZAPIService.Start: webhook-driven service, nothing to start")
	return nil
}

// Stop marks the service stopped; subsequent sends fail fast.
func (s *ZAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	slog.Info("ZAPIService.Stop: service stopped")
	return nil
}
