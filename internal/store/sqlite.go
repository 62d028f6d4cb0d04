// Package store provides storage backends for LeadFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const leadColumns = "id, phone, name, treatment, stage, status, bot_step, bot_data, last_message_at, created_at, updated_at"

func (s *SQLiteStore) CreateLead(lead *models.Lead) error {
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
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Phone, nilIfEmpty(lead.Name), nilIfEmpty(lead.Treatment),
		lead.Stage, lead.Status, lead.BotStep, nilIfEmpty(botData),
		nullableTime(lead.LastMessageAt), lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateLead failed", "error", err, "phone", lead.Phone)
		return fmt.Errorf("failed to insert lead for %s: %w", lead.Phone, err)
	}
	slog.Debug("SQLiteStore.CreateLead succeeded", "leadID", lead.ID, "phone", lead.Phone)
	return nil
}

func (s *SQLiteStore) GetLead(id string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetLead failed", "error", err, "leadID", id)
		return nil, fmt.Errorf("failed to get lead %s: %w", id, err)
	}
	return lead, nil
}

func (s *SQLiteStore) FindLeadByPhone(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE phone = ?`, phone)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.FindLeadByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to find lead by phone: %w", err)
	}
	return lead, nil
}

func (s *SQLiteStore) UpdateLead(id string, update models.LeadUpdate) (*models.Lead, error) {
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
		`UPDATE leads SET name = ?, treatment = ?, stage = ?, status = ?, bot_step = ?, bot_data = ?, last_message_at = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(lead.Name), nilIfEmpty(lead.Treatment), lead.Stage, lead.Status,
		lead.BotStep, nilIfEmpty(botData), nullableTime(lead.LastMessageAt), lead.UpdatedAt, id,
	)
	if err != nil {
		slog.Error("SQLiteStore.UpdateLead failed", "error", err, "leadID", id)
		return nil, fmt.Errorf("failed to update lead %s: %w", id, err)
	}
	slog.Debug("SQLiteStore.UpdateLead succeeded", "leadID", id)
	return lead, nil
}

func (s *SQLiteStore) ListLeads(stage models.Stage, status models.Status) ([]models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	var conds []string
	var args []interface{}
	if stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, stage)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY last_message_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore.ListLeads query failed", "error", err)
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
	slog.Debug("SQLiteStore.ListLeads succeeded", "count", len(leads))
	return leads, nil
}

func (s *SQLiteStore) AppendMessage(msg *models.Message) error {
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
		`INSERT INTO messages (id, lead_id, sender, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.LeadID, msg.From, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AppendMessage failed", "error", err, "leadID", msg.LeadID)
		return fmt.Errorf("failed to insert message for lead %s: %w", msg.LeadID, err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(leadID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, sender, body, created_at FROM messages WHERE lead_id = ? ORDER BY created_at ASC`,
		leadID,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListMessages query failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) ListRecentMessages(leadID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, sender, body, created_at FROM (
			SELECT id, lead_id, sender, body, created_at FROM messages
			WHERE lead_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		leadID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListRecentMessages query failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) CreateFollowUp(f *models.FollowUp) error {
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
		`INSERT INTO followups (id, lead_id, body, run_at, sent_at, created_at) VALUES (?, ?, ?, ?, NULL, ?)`,
		f.ID, f.LeadID, f.Text, f.RunAt, f.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateFollowUp failed", "error", err, "leadID", f.LeadID)
		return fmt.Errorf("failed to insert followup for lead %s: %w", f.LeadID, err)
	}
	return nil
}

func (s *SQLiteStore) ListDueFollowUps(now time.Time, limit int) ([]models.FollowUp, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, body, run_at, sent_at, created_at FROM followups
		 WHERE sent_at IS NULL AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due followups: %w", err)
	}
	defer rows.Close()
	return collectFollowUps(rows)
}

func (s *SQLiteStore) MarkFollowUpSent(id string) error {
	_, err := s.db.Exec(`UPDATE followups SET sent_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark followup sent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFollowUpsForLead(leadID string) ([]models.FollowUp, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, body, run_at, sent_at, created_at FROM followups
		 WHERE lead_id = ? ORDER BY run_at ASC`,
		leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query followups: %w", err)
	}
	defer rows.Close()
	return collectFollowUps(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}

func collectFollowUps(rows *sql.Rows) ([]models.FollowUp, error) {
	var fus []models.FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		fus = append(fus, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate followup rows: %w", err)
	}
	return fus, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
