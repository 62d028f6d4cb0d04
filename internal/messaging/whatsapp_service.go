package messaging

import (
	"context"
	"log/slog"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// IncomingHandler processes an inbound message. The webhook endpoint and the
// native WhatsApp event loop both deliver through this type.
type IncomingHandler func(ctx context.Context, msg models.IncomingMessage) error

// WhatsAppService implements Service using the whatsmeow-based native client.
// Unlike the webhook-driven providers it receives inbound messages itself,
// through the client's event stream.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling; nil for mocks
	handler  IncomingHandler
}

// NewWhatsAppService creates a new WhatsAppService. Inbound text messages are
// delivered to handler.
func NewWhatsAppService(client whatsapp.Sender, handler IncomingHandler) *WhatsAppService {
	service := &WhatsAppService{client: client, handler: handler}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendText sends a message through the native client.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendText: recipient validation failed", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

// Start registers the inbound event handler on the native client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(ctx, msg)
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop disconnects the native client.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService.Stop: service stopped")
	return nil
}

// handleIncomingMessage converts a whatsmeow message event into an
// IncomingMessage and hands it to the handler. Self-sent events are dropped
// here — the same echo suppression the webhook path applies.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || s.handler == nil {
		return
	}
	if evt.Info.IsFromMe {
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring self-originated event", "id", evt.Info.ID)
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Non-text messages (images, audio, ...) are skipped.
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	incoming := models.IncomingMessage{
		Phone:     evt.Info.Sender.User,
		Text:      text,
		MessageID: string(evt.Info.ID),
		Timestamp: evt.Info.Timestamp.UnixMilli(),
	}

	slog.Debug("WhatsAppService.handleIncomingMessage: forwarding", "from", incoming.Phone, "body_length", len(incoming.Text))
	if err := s.handler(ctx, incoming); err != nil {
		slog.Error("WhatsAppService.handleIncomingMessage: handler failed", "error", err, "from", incoming.Phone)
	}
}
