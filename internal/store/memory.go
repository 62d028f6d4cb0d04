package store

import (
	"sort"
	"sync"
	"time"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/util"
	"github.com/google/uuid"
)

// InMemoryStore keeps everything in process memory. Used for tests and for
// running without a database.
type InMemoryStore struct {
	mu        sync.Mutex
	leads     map[string]*models.Lead
	byPhone   map[string]string // phone -> lead ID
	messages  map[string][]models.Message
	followups map[string]*models.FollowUp
	dedup     map[string]*DedupRecord
	outbox    map[string]*OutboxMessage
}

// Compile-time checks that InMemoryStore implements all repositories.
var (
	_ Store      = (*InMemoryStore)(nil)
	_ DedupRepo  = (*InMemoryStore)(nil)
	_ OutboxRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:     make(map[string]*models.Lead),
		byPhone:   make(map[string]string),
		messages:  make(map[string][]models.Message),
		followups: make(map[string]*models.FollowUp),
		dedup:     make(map[string]*DedupRecord),
		outbox:    make(map[string]*OutboxMessage),
	}
}

func (s *InMemoryStore) CreateLead(lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	c := cloneLead(lead)
	s.leads[lead.ID] = c
	s.byPhone[lead.Phone] = lead.ID
	return nil
}

func (s *InMemoryStore) GetLead(id string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, nil
	}
	return cloneLead(lead), nil
}

func (s *InMemoryStore) FindLeadByPhone(phone string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return nil, nil
	}
	return cloneLead(s.leads[id]), nil
}

func (s *InMemoryStore) UpdateLead(id string, update models.LeadUpdate) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, models.ErrLeadNotFound
	}
	applyLeadUpdate(lead, update)
	lead.UpdatedAt = time.Now()
	return cloneLead(lead), nil
}

func (s *InMemoryStore) ListLeads(stage models.Stage, status models.Status) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Lead
	for _, lead := range s.leads {
		if stage != "" && lead.Stage != stage {
			continue
		}
		if status != "" && lead.Status != status {
			continue
		}
		out = append(out, *cloneLead(lead))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *InMemoryStore) AppendMessage(msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Text == "" {
		return models.ErrEmptyText
	}
	if !models.IsValidSender(msg.From) {
		return models.ErrInvalidSender
	}
	if _, ok := s.leads[msg.LeadID]; !ok {
		return models.ErrLeadNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.LeadID] = append(s.messages[msg.LeadID], *msg)
	return nil
}

func (s *InMemoryStore) ListMessages(leadID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[leadID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) ListRecentMessages(leadID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[leadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) CreateFollowUp(f *models.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Text == "" {
		return models.ErrEmptyText
	}
	if _, ok := s.leads[f.LeadID]; !ok {
		return models.ErrLeadNotFound
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	c := *f
	s.followups[f.ID] = &c
	return nil
}

func (s *InMemoryStore) ListDueFollowUps(now time.Time, limit int) ([]models.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FollowUp
	for _, f := range s.followups {
		if f.SentAt == nil && !f.RunAt.After(now) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkFollowUpSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.followups[id]
	if !ok {
		return models.ErrLeadNotFound
	}
	now := time.Now()
	f.SentAt = &now
	return nil
}

func (s *InMemoryStore) ListFollowUpsForLead(leadID string) ([]models.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FollowUp
	for _, f := range s.followups {
		if f.LeadID == leadID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// DedupRepo implementation.

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.dedup[messageID]
	return ok && rec.ProcessedAt != nil, nil
}

func (s *InMemoryStore) RecordInbound(messageID, leadPhone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{
		MessageID:  messageID,
		LeadPhone:  leadPhone,
		ReceivedAt: time.Now(),
	}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	return nil
}

func (s *InMemoryStore) DeleteInbound(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dedup, messageID)
	return nil
}

// OutboxRepo implementation.

func (s *InMemoryStore) EnqueueOutboxMessage(leadID, phone, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}

	id := util.GenerateRandomID("outbox_", 32)
	now := time.Now()
	s.outbox[id] = &OutboxMessage{
		ID:        id,
		LeadID:    leadID,
		Phone:     phone,
		Body:      body,
		Status:    OutboxStatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		lockedAt := now
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) MarkOutboxMessageFailed(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func cloneLead(lead *models.Lead) *models.Lead {
	c := *lead
	c.BotData = lead.BotData.Clone()
	return &c
}

// applyLeadUpdate mutates lead in place per the partial-update rules: nil
// fields untouched, BotData merged first-write-wins.
func applyLeadUpdate(lead *models.Lead, update models.LeadUpdate) {
	if update.Name != nil {
		lead.Name = *update.Name
	}
	if update.Treatment != nil {
		lead.Treatment = *update.Treatment
	}
	if update.Stage != nil {
		lead.Stage = *update.Stage
	}
	if update.Status != nil {
		lead.Status = *update.Status
	}
	if update.BotStep != nil {
		lead.BotStep = *update.BotStep
	}
	if len(update.BotData) > 0 {
		lead.BotData = lead.BotData.Merge(update.BotData)
	}
	if update.LastMessageAt != nil {
		lead.LastMessageAt = *update.LastMessageAt
	}
}
