// Package models defines the core data structures for LeadFlow.
//
// It includes the lead and message entities shared across modules, the
// pipeline stage and bot step enumerations, and API response envelopes.
package models

import (
	"errors"
	"time"
)

// Stage represents a lead's position in the sales pipeline (kanban column).
type Stage string

const (
	// StageNew is the entry column for first-contact leads.
	StageNew Stage = "Novos"
	// StageBotTriage is the column for leads being qualified by the bot.
	StageBotTriage Stage = "Triagem (bot)"
	// StageInService marks a lead handed to a human operator.
	StageInService Stage = "Em atendimento"
	// StageQuoteSent marks a lead that received a quote.
	StageQuoteSent Stage = "Orçamento enviado"
	// StageSchedulingPending marks a lead waiting for an appointment slot.
	StageSchedulingPending Stage = "Agendamento pendente"
	// StageScheduled marks a lead with a booked appointment.
	StageScheduled Stage = "Agendado"
	// StageWon marks a closed deal.
	StageWon Stage = "Fechou"
	// StageLost marks a lost lead.
	StageLost Stage = "Perdido"
)

// manualStages are reachable only through operator action. Automated stage
// resolution must never move a lead out of any of these.
var manualStages = map[Stage]bool{
	StageInService:         true,
	StageQuoteSent:         true,
	StageSchedulingPending: true,
	StageScheduled:         true,
	StageWon:               true,
	StageLost:              true,
}

// IsManualStage reports whether the stage belongs to the operator-controlled
// portion of the pipeline.
func IsManualStage(s Stage) bool {
	return manualStages[s]
}

// IsValidStage checks if the given stage is one of the pipeline columns.
func IsValidStage(s Stage) bool {
	switch s {
	case StageNew, StageBotTriage, StageInService, StageQuoteSent,
		StageSchedulingPending, StageScheduled, StageWon, StageLost:
		return true
	default:
		return false
	}
}

// Status is an advisory temperature classification for a lead. It never gates
// behavior; it exists for filtering and display.
type Status string

const (
	StatusNew  Status = "new"
	StatusWarm Status = "warm"
	StatusHot  Status = "hot"
	StatusLost Status = "lost"
)

// IsValidStatus checks if the given status is a known temperature value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusWarm, StatusHot, StatusLost:
		return true
	default:
		return false
	}
}

// BotStep is the cursor into the scripted conversation flow.
type BotStep string

const (
	StepStart        BotStep = "start"
	StepAskTreatment BotStep = "ask_treatment"
	StepAskName      BotStep = "ask_name"
	StepAskGoal      BotStep = "ask_goal"
	StepAskPain      BotStep = "ask_pain"
	StepAskTime      BotStep = "ask_time"
	// StepDone means data collection is complete; further messages get a
	// canned acknowledgment.
	StepDone BotStep = "done"
	// StepPaused means a human operator has taken over the conversation and
	// automated replies must stop.
	StepPaused BotStep = "paused"
)

// BotData holds the facts extracted from a conversation, keyed by field name.
// Values are merged first-write-wins; a key once set is never overwritten.
type BotData map[string]string

// Data keys stored in BotData.
const (
	DataKeyTreatment = "treatment"
	DataKeyName      = "name"
	DataKeyGoal      = "goal"
	DataKeyPain      = "pain"
	DataKeyTime      = "time"
)

// Clone returns a shallow copy of the data map. A nil receiver yields an
// empty, non-nil map so callers can merge into the result directly.
func (d BotData) Clone() BotData {
	out := make(BotData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a copy of d with the missing keys of other added. Keys
// already present in d keep their value.
func (d BotData) Merge(other BotData) BotData {
	out := d.Clone()
	for k, v := range other {
		if _, exists := out[k]; !exists && v != "" {
			out[k] = v
		}
	}
	return out
}

// MessageSender identifies who produced a message.
type MessageSender string

const (
	// SenderClient is the end customer writing in.
	SenderClient MessageSender = "client"
	// SenderBot is the automated agent.
	SenderBot MessageSender = "bot"
	// SenderTeam is a human operator.
	SenderTeam MessageSender = "team"
)

// IsValidSender checks if the given sender is a known enumeration value.
func IsValidSender(s MessageSender) bool {
	switch s {
	case SenderClient, SenderBot, SenderTeam:
		return true
	default:
		return false
	}
}

// Lead is the central entity: one prospective customer per phone number.
type Lead struct {
	ID            string    `json:"id"`
	Phone         string    `json:"phone"` // canonical digits, country code prefixed
	Name          string    `json:"name,omitempty"`
	Treatment     string    `json:"treatment,omitempty"`
	Stage         Stage     `json:"stage"`
	Status        Status    `json:"status"`
	BotStep       BotStep   `json:"bot_step"`
	BotData       BotData   `json:"bot_data,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LeadUpdate is a partial update applied to a lead. Nil fields are left
// untouched; BotData is merged first-write-wins rather than replaced.
type LeadUpdate struct {
	Name          *string    `json:"name,omitempty"`
	Treatment     *string    `json:"treatment,omitempty"`
	Stage         *Stage     `json:"stage,omitempty"`
	Status        *Status    `json:"status,omitempty"`
	BotStep       *BotStep   `json:"bot_step,omitempty"`
	BotData       BotData    `json:"bot_data,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (u LeadUpdate) IsEmpty() bool {
	return u.Name == nil && u.Treatment == nil && u.Stage == nil &&
		u.Status == nil && u.BotStep == nil && len(u.BotData) == 0 &&
		u.LastMessageAt == nil
}

// Message is one inbound or outbound conversation event. The message log is
// append-only: no edits, no deletes, ordered by CreatedAt ascending.
type Message struct {
	ID        string        `json:"id"`
	LeadID    string        `json:"lead_id"`
	From      MessageSender `json:"from"`
	Text      string        `json:"text"`
	CreatedAt time.Time     `json:"created_at"`
}

// IncomingMessage is a provider-agnostic inbound message extracted from a
// webhook payload.
type IncomingMessage struct {
	Phone     string `json:"phone"` // canonical
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"` // unix millis as delivered by provider
}

// FollowUp is a scheduled reminder message for a lead.
type FollowUp struct {
	ID        string     `json:"id"`
	LeadID    string     `json:"lead_id"`
	Text      string     `json:"text"`
	RunAt     time.Time  `json:"run_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Error variables shared across modules.
var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrEmptyPhone    = errors.New("phone cannot be empty")
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrInvalidStage  = errors.New("invalid stage")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidSender = errors.New("invalid message sender")
)
