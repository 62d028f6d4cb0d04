// Package messaging provides a pluggable message delivery abstraction for
// LeadFlow and the provider-backed implementations behind it.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/buzzicrm/leadflow/internal/models"
)

// Service defines a pluggable outbound text delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// phone number. Returns the canonical form and an error if validation
	// fails. Each provider may apply its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text message to a recipient. Permanent rejections are
	// wrapped with models.Permanent; other failures are transient.
	SendText(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., provider event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// MinPhoneDigits is the minimum number of digits a recipient must have.
const MinPhoneDigits = 6

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone strips non-digits from a recipient and validates the
// result has at least MinPhoneDigits digits. Shared by provider services.
// Validation failures are permanent: retrying an unsendable recipient never
// helps, so the outbox parks the message instead of burning attempts.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.Permanent(fmt.Errorf("recipient cannot be empty"))
	}

	canonical := nonDigitRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", models.Permanent(fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient))
	}
	if len(canonical) < MinPhoneDigits {
		return "", models.Permanent(fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits))
	}

	if canonical != recipient {
		slog.Debug("messaging.CanonicalizePhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
