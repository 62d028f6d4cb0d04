// Package store provides storage backends for LeadFlow.
//
// It includes an in-memory store for tests and development plus SQLite- and
// PostgreSQL-backed stores for production. All backends also implement the
// inbound deduplication and durable outbox repositories.
package store

import (
	"strings"
	"time"

	"github.com/buzzicrm/leadflow/internal/models"
)

// Store is the persistence interface for leads, their message logs, and
// scheduled follow-ups.
//
// Lookup methods return (nil, nil) when the entity does not exist; mutation
// methods return models.ErrLeadNotFound for a missing lead.
type Store interface {
	// CreateLead inserts a new lead. A missing ID and timestamps are filled in.
	CreateLead(lead *models.Lead) error
	// GetLead retrieves a lead by ID.
	GetLead(id string) (*models.Lead, error)
	// FindLeadByPhone retrieves a lead by its canonical phone number.
	FindLeadByPhone(phone string) (*models.Lead, error)
	// UpdateLead applies a partial update and returns the updated lead.
	// BotData in the update is merged first-write-wins, never replaced.
	UpdateLead(id string, update models.LeadUpdate) (*models.Lead, error)
	// ListLeads returns all leads, optionally filtered by stage and/or status
	// (empty values mean no filter), newest activity first.
	ListLeads(stage models.Stage, status models.Status) ([]models.Lead, error)

	// AppendMessage appends one message to a lead's log. A missing ID and
	// timestamp are filled in.
	AppendMessage(msg *models.Message) error
	// ListMessages returns a lead's full message log, oldest first.
	ListMessages(leadID string) ([]models.Message, error)
	// ListRecentMessages returns the last limit messages, oldest first.
	ListRecentMessages(leadID string, limit int) ([]models.Message, error)

	// CreateFollowUp schedules a follow-up message for a lead.
	CreateFollowUp(f *models.FollowUp) error
	// ListDueFollowUps returns unsent follow-ups with run_at <= now.
	ListDueFollowUps(now time.Time, limit int) ([]models.FollowUp, error)
	// MarkFollowUpSent stamps a follow-up as delivered.
	MarkFollowUpSent(id string) error
	// ListFollowUpsForLead returns all follow-ups for a lead, soonest first.
	ListFollowUpsForLead(leadID string) ([]models.FollowUp, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration for constructing a store backend.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite3". URL-style and
// key=value connection strings are Postgres; anything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	for _, marker := range []string{"host=", "dbname=", "user=", "sslmode="} {
		if strings.Contains(lower, marker) {
			return "postgres"
		}
	}
	return "sqlite3"
}
