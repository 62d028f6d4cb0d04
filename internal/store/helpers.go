package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/buzzicrm/leadflow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalBotData serializes bot data to a JSON column value, empty string for
// no data.
func marshalBotData(data models.BotData) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal bot data failed: %w", err)
	}
	return string(raw), nil
}

// unmarshalBotData parses a JSON column back into bot data. Corrupt JSON
// yields an empty map rather than an error; the conversation can rebuild it.
func unmarshalBotData(raw string) models.BotData {
	data := models.BotData{}
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("store: bot data unmarshal failed, continuing with empty data", "error", err)
		return models.BotData{}
	}
	return data
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanLead scans a lead row in the canonical column order.
func scanLead(scanner rowScanner) (*models.Lead, error) {
	var lead models.Lead
	var name, treatment, botData sql.NullString
	var lastMessageAt sql.NullTime
	err := scanner.Scan(
		&lead.ID, &lead.Phone, &name, &treatment, &lead.Stage, &lead.Status,
		&lead.BotStep, &botData, &lastMessageAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lead.Name = name.String
	lead.Treatment = treatment.String
	lead.BotData = unmarshalBotData(botData.String)
	if lastMessageAt.Valid {
		lead.LastMessageAt = lastMessageAt.Time
	}
	return &lead, nil
}

// scanMessage scans a message row in the canonical column order.
func scanMessage(scanner rowScanner) (models.Message, error) {
	var m models.Message
	err := scanner.Scan(&m.ID, &m.LeadID, &m.From, &m.Text, &m.CreatedAt)
	if err != nil {
		return m, fmt.Errorf("scan message failed: %w", err)
	}
	return m, nil
}

// scanFollowUp scans a follow-up row in the canonical column order.
func scanFollowUp(scanner rowScanner) (models.FollowUp, error) {
	var f models.FollowUp
	var sentAt sql.NullTime
	err := scanner.Scan(&f.ID, &f.LeadID, &f.Text, &f.RunAt, &sentAt, &f.CreatedAt)
	if err != nil {
		return f, fmt.Errorf("scan followup failed: %w", err)
	}
	if sentAt.Valid {
		f.SentAt = &sentAt.Time
	}
	return f, nil
}

// scanOutboxMessage scans an outbox row in the canonical column order.
func scanOutboxMessage(scanner rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := scanner.Scan(
		&m.ID, &m.LeadID, &m.Phone, &m.Body, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
