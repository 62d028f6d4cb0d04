package zapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/buzzicrm/leadflow/internal/models"
)

// webhookPayload mirrors the fields LeadFlow cares about in a Z-API webhook
// body, with fallbacks for Evolution/Baileys-shaped events. Unknown fields
// are ignored by the JSON decoder.
type webhookPayload struct {
	FromMe           bool   `json:"fromMe"`
	IsGroup          bool   `json:"isGroup"`
	Phone            string `json:"phone"`
	ParticipantPhone string `json:"participantPhone"`
	MessageID        string `json:"messageId"`
	Momment          int64  `json:"momment"`
	Timestamp        int64  `json:"timestamp"`

	Text             *textBody  `json:"text"`
	HydratedTemplate *textBody  `json:"hydratedTemplate"`
	ButtonsResponse  *textBody  `json:"buttonsResponseMessage"`
	ListResponse     *textBody  `json:"listResponseMessage"`
	Image            *mediaBody `json:"image"`
	Video            *mediaBody `json:"video"`
	Document         *mediaBody `json:"document"`
	Reaction         *reaction  `json:"reaction"`

	Data *baileysData `json:"data"`
}

type textBody struct {
	Message string `json:"message"`
}

type mediaBody struct {
	Caption string `json:"caption"`
}

type reaction struct {
	Value string `json:"value"`
}

type baileysData struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Message struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
}

// extractText pulls the human-readable message text out of the payload,
// checking each of the provider's possible text locations in order.
func (p *webhookPayload) extractText() string {
	if p.Text != nil && p.Text.Message != "" {
		return p.Text.Message
	}
	if p.HydratedTemplate != nil && p.HydratedTemplate.Message != "" {
		return p.HydratedTemplate.Message
	}
	if p.ButtonsResponse != nil && p.ButtonsResponse.Message != "" {
		return p.ButtonsResponse.Message
	}
	if p.ListResponse != nil && p.ListResponse.Message != "" {
		return p.ListResponse.Message
	}
	if p.Image != nil && p.Image.Caption != "" {
		return p.Image.Caption
	}
	if p.Video != nil && p.Video.Caption != "" {
		return p.Video.Caption
	}
	if p.Document != nil && p.Document.Caption != "" {
		return p.Document.Caption
	}
	if p.Reaction != nil && p.Reaction.Value != "" {
		return fmt.Sprintf("[Reação: %s]", p.Reaction.Value)
	}
	// Evolution/Baileys fallback shape.
	if p.Data != nil {
		if p.Data.Message.Conversation != "" {
			return p.Data.Message.Conversation
		}
		if p.Data.Message.ExtendedTextMessage.Text != "" {
			return p.Data.Message.ExtendedTextMessage.Text
		}
	}
	return ""
}

// extractPhone pulls the sender's phone number. Group messages carry the
// actual sender in participantPhone.
func (p *webhookPayload) extractPhone() string {
	if p.IsGroup && p.ParticipantPhone != "" {
		return p.ParticipantPhone
	}
	if p.Phone != "" {
		return p.Phone
	}
	if p.Data != nil && p.Data.Key.RemoteJID != "" {
		jid := p.Data.Key.RemoteJID
		if idx := strings.Index(jid, "@"); idx >= 0 {
			jid = jid[:idx]
		}
		return jid
	}
	return ""
}

// NormalizePhone canonicalizes a phone number using the default country code:
// all non-digit characters are stripped and the country code digits are
// prepended when missing. The function is idempotent.
func NormalizePhone(raw string) string {
	return NormalizePhoneWithCountry(raw, DefaultCountryCode)
}

// NormalizePhoneWithCountry canonicalizes a phone number against the given
// country code digits.
func NormalizePhoneWithCountry(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return ""
	}
	if strings.HasPrefix(cleaned, countryCode) {
		return cleaned
	}
	return countryCode + cleaned
}

// ParseIncomingPayload extracts a provider-agnostic IncomingMessage from a raw
// webhook body. It returns nil (and no error) when the event should be
// ignored: messages sent by us (echo suppression — without it the bot replies
// to its own sends forever), events with no sender phone, and events whose
// text is empty after trimming. A body that is not valid JSON is also treated
// as ignorable; the intake boundary never surfaces provider-shape problems as
// failures.
func ParseIncomingPayload(body []byte) *models.IncomingMessage {
	return ParseIncomingPayloadWithCountry(body, DefaultCountryCode)
}

// ParseIncomingPayloadWithCountry is ParseIncomingPayload with an explicit
// country code for phone normalization.
func ParseIncomingPayloadWithCountry(body []byte, countryCode string) *models.IncomingMessage {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		slog.Warn("zapi.ParseIncomingPayload: payload is not valid JSON", "error", err, "body_length", len(body))
		return nil
	}

	if p.FromMe {
		slog.Debug("zapi.ParseIncomingPayload: ignoring self-originated event")
		return nil
	}

	phone := p.extractPhone()
	text := strings.TrimSpace(p.extractText())
	if phone == "" || text == "" {
		slog.Debug("zapi.ParseIncomingPayload: ignoring event without phone or text",
			"phone_set", phone != "", "text_set", text != "")
		return nil
	}

	messageID := p.MessageID
	if messageID == "" && p.Data != nil {
		messageID = p.Data.Key.ID
	}
	if messageID == "" {
		messageID = fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}

	timestamp := p.Momment
	if timestamp == 0 {
		timestamp = p.Timestamp
	}
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	return &models.IncomingMessage{
		Phone:     NormalizePhoneWithCountry(phone, countryCode),
		Text:      text,
		MessageID: messageID,
		Timestamp: timestamp,
	}
}
