// Package store provides storage backends for LeadFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateLead(lead *models.Lead) error {
	if lead.Phone == "" {
		return models.ErrEmptyPhone
	}
	now := time.Now()
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.BotData == nil {
		lead.BotData = models.BotData{}
	}

	botData, err := marshalBotData(lead.BotData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO leads (`+leadColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		lead.ID, lead.Phone, nilIfEmpty(lead.Name), nilIfEmpty(lead.Treatment),
		lead.Stage, lead.Status, lead.BotStep, nilIfEmpty(botData),
		nullableTime(lead.LastMessageAt), lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateLead failed", "error", err, "phone", lead.Phone)
		return fmt.Errorf("failed to insert lead for %s: %w", lead.Phone, err)
	}
	slog.Debug("PostgresStore.CreateLead succeeded", "leadID", lead.ID, "phone", lead.Phone)
	return nil
}

func (s *PostgresStore) GetLead(id string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetLead failed", "error", err, "leadID", id)
		return nil, fmt.Errorf("failed to get lead %s: %w", id, err)
	}
	return lead, nil
}

func (s *PostgresStore) FindLeadByPhone(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE phone = $1`, phone)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.FindLeadByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to find lead by phone: %w", err)
	}
	return lead, nil
}

func (s *PostgresStore) UpdateLead(id string, update models.LeadUpdate) (*models.Lead, error) {
	lead, err := s.GetLead(id)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, models.ErrLeadNotFound
	}

	applyLeadUpdate(lead, update)
	lead.UpdatedAt = time.Now()

	botData, err := marshalBotData(lead.BotData)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`UPDATE leads SET name = $1, treatment = $2, stage = $3, status = $4, bot_step = $5, bot_data = $6, last_message_at = $7, updated_at = $8 WHERE id = $9`,
		nilIfEmpty(lead.Name), nilIfEmpty(lead.Treatment), lead.Stage, lead.Status,
		lead.BotStep, nilIfEmpty(botData), nullableTime(lead.LastMessageAt), lead.UpdatedAt, id,
	)
	if err != nil {
		slog.Error("PostgresStore.UpdateLead failed", "error", err, "leadID", id)
		return nil, fmt.Errorf("failed to update lead %s: %w", id, err)
	}
	slog.Debug("PostgresStore.UpdateLead succeeded", "leadID", id)
	return lead, nil
}

func (s *PostgresStore) ListLeads(stage models.Stage, status models.Status) ([]models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	var args []interface{}
	if stage != "" {
		args = append(args, stage)
		query += fmt.Sprintf(" WHERE stage = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		if len(args) == 1 {
			query += fmt.Sprintf(" WHERE status = $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}
	query += " ORDER BY last_message_at DESC NULLS LAST"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore.ListLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	slog.Debug("PostgresStore.ListLeads succeeded", "count", len(leads))
	return leads, nil
}

func (s *PostgresStore) AppendMessage(msg *models.Message) error {
	if msg.Text == "" {
		return models.ErrEmptyText
	}
	if !models.IsValidSender(msg.From) {
		return models.ErrInvalidSender
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, lead_id, sender, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.LeadID, msg.From, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AppendMessage failed", "error", err, "leadID", msg.LeadID)
		return fmt.Errorf("failed to insert message for lead %s: %w", msg.LeadID, err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(leadID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, sender, body, created_at FROM messages WHERE lead_id = $1 ORDER BY created_at ASC`,
		leadID,
	)
	if err != nil {
		slog.Error("PostgresStore.ListMessages query failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *PostgresStore) ListRecentMessages(leadID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, sender, body, created_at FROM (
			SELECT id, lead_id, sender, body, created_at FROM messages
			WHERE lead_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`,
		leadID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.ListRecentMessages query failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *PostgresStore) CreateFollowUp(f *models.FollowUp) error {
	if f.Text == "" {
		return models.ErrEmptyText
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO followups (id, lead_id, body, run_at, sent_at, created_at) VALUES ($1, $2, $3, $4, NULL, $5)`,
		f.ID, f.LeadID, f.Text, f.RunAt, f.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateFollowUp failed", "error", err, "leadID", f.LeadID)
		return fmt.Errorf("failed to insert followup for lead %s: %w", f.LeadID, err)
	}
	return nil
}

func (s *PostgresStore) ListDueFollowUps(now time.Time, limit int) ([]models.FollowUp, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, body, run_at, sent_at, created_at FROM followups
		 WHERE sent_at IS NULL AND run_at <= $1 ORDER BY run_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due followups: %w", err)
	}
	defer rows.Close()
	return collectFollowUps(rows)
}

func (s *PostgresStore) MarkFollowUpSent(id string) error {
	_, err := s.db.Exec(`UPDATE followups SET sent_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark followup sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFollowUpsForLead(leadID string) ([]models.FollowUp, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, body, run_at, sent_at, created_at FROM followups
		 WHERE lead_id = $1 ORDER BY run_at ASC`,
		leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query followups: %w", err)
	}
	defer rows.Close()
	return collectFollowUps(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
