package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/buzzicrm/leadflow/internal/models"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{"plain digits", "5511999990000", "5511999990000", false},
		{"formatted", "+55 (11) 99999-0000", "5511999990000", false},
		{"empty", "", "", true},
		{"no digits", "abc-def", "", true},
		{"too short", "12345", "", true},
		{"minimum length", "123456", "123456", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizePhone(tt.recipient)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CanonicalizePhone(%q) error = %v, wantErr %v", tt.recipient, err, tt.wantErr)
			}
			// A bad recipient never becomes sendable, so the outbox must be
			// able to park it instead of retrying.
			if err != nil && !models.IsPermanent(err) {
				t.Errorf("CanonicalizePhone(%q) error not permanent: %v", tt.recipient, err)
			}
			if got != tt.want {
				t.Errorf("CanonicalizePhone(%q) = %q, want %q", tt.recipient, got, tt.want)
			}
		})
	}
}

// mockZAPISender records sends for the Z-API service tests.
type mockZAPISender struct {
	sentTo   string
	sentBody string
	err      error
}

func (m *mockZAPISender) SendText(ctx context.Context, phone, text string) error {
	m.sentTo = phone
	m.sentBody = text
	return m.err
}

func (m *mockZAPISender) CountryCode() string { return "55" }

func TestZAPIServiceSendText(t *testing.T) {
	mock := &mockZAPISender{}
	svc := NewZAPIService(mock)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.SendText(context.Background(), "(11) 99999-0000", "Olá!"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if mock.sentTo != "5511999990000" {
		t.Errorf("recipient not canonicalized with country code: %q", mock.sentTo)
	}
	if mock.sentBody != "Olá!" {
		t.Errorf("body = %q", mock.sentBody)
	}
}

func TestZAPIServiceValidatesRecipient(t *testing.T) {
	mock := &mockZAPISender{}
	svc := NewZAPIService(mock)

	if err := svc.SendText(context.Background(), "123", "oi"); err == nil {
		t.Error("expected error for short recipient")
	}
	if mock.sentTo != "" {
		t.Errorf("invalid recipient reached the provider: %q", mock.sentTo)
	}

	canonical, err := svc.ValidateAndCanonicalizeRecipient("11 98888-7777")
	if err != nil {
		t.Fatalf("ValidateAndCanonicalizeRecipient: %v", err)
	}
	if canonical != "5511988887777" {
		t.Errorf("canonical = %q", canonical)
	}
}

func TestZAPIServiceStopped(t *testing.T) {
	mock := &mockZAPISender{}
	svc := NewZAPIService(mock)

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendText(context.Background(), "5511999990000", "oi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if mock.sentTo != "" {
		t.Error("send after Stop reached the provider")
	}
}
