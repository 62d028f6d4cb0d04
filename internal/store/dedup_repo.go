// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"time"
)

// DedupRecord represents an inbound message deduplication record. Providers
// deliver webhooks at-least-once, so every inbound message ID is recorded
// before processing.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	LeadPhone   string     `json:"lead_phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// IsDuplicate reports whether a message ID was already fully processed.
	// A record without processed_at is a crashed or failed attempt, not a
	// duplicate: its redelivery must run again.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded.
	RecordInbound(messageID, leadPhone string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error

	// DeleteInbound removes a message record so a redelivery starts clean.
	// Deleting an unknown ID is a no-op.
	DeleteInbound(messageID string) error
}
