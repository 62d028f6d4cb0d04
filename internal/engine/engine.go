// Package engine orchestrates inbound message processing: deduplication,
// lead lookup and creation, conversation state progression, and reply
// enqueueing. It owns the write path for leads; transports and the HTTP API
// hand it messages and read the results from the store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/buzzicrm/leadflow/internal/flow"
	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/store"
)

// DefaultHistoryLimit is how many recent messages are handed to the reply
// strategy as conversation context.
const DefaultHistoryLimit = 8

// Opts holds configuration for the Engine.
type Opts struct {
	HistoryLimit int
}

// Option configures Engine construction.
type Option func(*Opts)

// WithHistoryLimit sets how many recent messages the reply strategy sees.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.HistoryLimit = n
		}
	}
}

// Engine processes inbound messages and produces replies through a durable
// outbox. All processing for a given phone number is serialized.
type Engine struct {
	store        store.Store
	dedup        store.DedupRepo
	outbox       store.OutboxRepo
	strategy     flow.ReplyStrategy
	locks        *keyedMutex
	historyLimit int
}

// New creates an Engine over the given repositories and reply strategy.
func New(st store.Store, dedup store.DedupRepo, outbox store.OutboxRepo, strategy flow.ReplyStrategy, opts ...Option) *Engine {
	cfg := Opts{HistoryLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:        st,
		dedup:        dedup,
		outbox:       outbox,
		strategy:     strategy,
		locks:        newKeyedMutex(),
		historyLimit: cfg.HistoryLimit,
	}
}

// ProcessIncoming handles one inbound client message end to end. Redelivery
// of an already-processed provider message ID is a no-op; redelivery after a
// failed attempt picks the message up again, so the webhook can be retried
// safely in both directions.
func (e *Engine) ProcessIncoming(ctx context.Context, msg models.IncomingMessage) error {
	if msg.Phone == "" {
		return models.ErrEmptyPhone
	}
	if msg.Text == "" {
		return models.ErrEmptyText
	}

	e.locks.Lock(msg.Phone)
	defer e.locks.Unlock(msg.Phone)

	// Providers deliver at-least-once. A processed record means the whole
	// pipeline already ran for this ID. An unprocessed one means a previous
	// attempt stored the inbound message and then failed partway through, so
	// the reply pipeline runs again; the outbox dedupe key keeps the send
	// single. The check-then-record pair is safe here because a message ID
	// always belongs to one phone and the phone lock serializes us.
	storedBefore := false
	if msg.MessageID != "" {
		done, err := e.dedup.IsDuplicate(msg.MessageID)
		if err != nil {
			return fmt.Errorf("inbound dedup check failed: %w", err)
		}
		if done {
			slog.Debug("Engine.ProcessIncoming: duplicate message ignored", "messageID", msg.MessageID, "phone", msg.Phone)
			return nil
		}
		fresh, err := e.dedup.RecordInbound(msg.MessageID, msg.Phone)
		if err != nil {
			return fmt.Errorf("inbound dedup failed: %w", err)
		}
		storedBefore = !fresh
	}

	lead, err := e.findOrCreateLead(msg.Phone)
	if err != nil {
		return err
	}

	receivedAt := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp <= 0 {
		receivedAt = time.Now()
	}
	if !storedBefore {
		if err := e.store.AppendMessage(&models.Message{
			LeadID:    lead.ID,
			From:      models.SenderClient,
			Text:      msg.Text,
			CreatedAt: receivedAt,
		}); err != nil {
			// Roll the dedup record back so a redelivery stores the message.
			e.deleteInbound(msg.MessageID)
			return fmt.Errorf("append client message failed: %w", err)
		}
	}
	lead, err = e.store.UpdateLead(lead.ID, models.LeadUpdate{LastMessageAt: &receivedAt})
	if err != nil {
		return fmt.Errorf("update last message time failed: %w", err)
	}

	// Operator takeover: the message is logged but the bot stays silent.
	if lead.BotStep == models.StepPaused {
		slog.Debug("Engine.ProcessIncoming: bot paused, no reply", "leadID", lead.ID)
		e.markProcessed(msg.MessageID)
		return nil
	}

	history, err := e.store.ListRecentMessages(lead.ID, e.historyLimit)
	if err != nil {
		return fmt.Errorf("load history failed: %w", err)
	}
	// The inbound message was appended above and strategies already receive
	// it as the latest text; leaving it on the tail would hand it over twice
	// and waste a slot of the bounded window.
	if n := len(history); n > 0 && history[n-1].From == models.SenderClient && history[n-1].Text == msg.Text {
		history = history[:n-1]
	}

	result, err := e.strategy.Reply(ctx, lead, msg.Text, history)
	if err != nil {
		return fmt.Errorf("reply strategy failed: %w", err)
	}
	if result.ReplyText == "" {
		return fmt.Errorf("reply strategy returned empty reply for lead %s", lead.ID)
	}

	// Operators own the tail of the pipeline; automated updates never move a
	// lead out of a manually set stage.
	if result.Updates.Stage != nil && models.IsManualStage(lead.Stage) {
		result.Updates.Stage = nil
	}

	// The bot message lands before the lead updates: if the append fails, a
	// redelivery reruns the strategy at the original step instead of
	// continuing a conversation the client never saw.
	if err := e.store.AppendMessage(&models.Message{
		LeadID: lead.ID,
		From:   models.SenderBot,
		Text:   result.ReplyText,
	}); err != nil {
		return fmt.Errorf("append bot message failed: %w", err)
	}

	if !result.Updates.IsEmpty() {
		if lead, err = e.store.UpdateLead(lead.ID, result.Updates); err != nil {
			return fmt.Errorf("apply lead updates failed: %w", err)
		}
	}

	dedupeKey := ""
	if msg.MessageID != "" {
		dedupeKey = "reply:" + msg.MessageID
	}
	if _, err := e.outbox.EnqueueOutboxMessage(lead.ID, lead.Phone, result.ReplyText, dedupeKey); err != nil {
		return fmt.Errorf("enqueue reply failed: %w", err)
	}

	e.markProcessed(msg.MessageID)
	slog.Info("Engine.ProcessIncoming: message processed", "leadID", lead.ID, "step", lead.BotStep, "stage", lead.Stage)
	return nil
}

// SendTeamMessage records an operator message for a lead and queues it for
// delivery. Sending as the team pauses the bot and pulls the lead into
// "Em atendimento" unless an operator already placed it further along.
func (e *Engine) SendTeamMessage(ctx context.Context, leadID, text string) (*models.Lead, error) {
	if text == "" {
		return nil, models.ErrEmptyText
	}

	lead, err := e.store.GetLead(leadID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, models.ErrLeadNotFound
	}

	e.locks.Lock(lead.Phone)
	defer e.locks.Unlock(lead.Phone)

	update := models.LeadUpdate{BotStep: botStepPtr(models.StepPaused)}
	if !models.IsManualStage(lead.Stage) {
		stage := models.StageInService
		update.Stage = &stage
	}
	if lead, err = e.store.UpdateLead(lead.ID, update); err != nil {
		return nil, fmt.Errorf("pause bot failed: %w", err)
	}

	if err := e.store.AppendMessage(&models.Message{
		LeadID: lead.ID,
		From:   models.SenderTeam,
		Text:   text,
	}); err != nil {
		return nil, fmt.Errorf("append team message failed: %w", err)
	}

	if _, err := e.outbox.EnqueueOutboxMessage(lead.ID, lead.Phone, text, ""); err != nil {
		return nil, fmt.Errorf("enqueue team message failed: %w", err)
	}
	slog.Info("Engine.SendTeamMessage: message queued", "leadID", lead.ID)
	return lead, nil
}

// SetBotPaused pauses or resumes the automated agent for a lead. Resuming
// resets the cursor to the start of the script.
func (e *Engine) SetBotPaused(leadID string, paused bool) (*models.Lead, error) {
	lead, err := e.store.GetLead(leadID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, models.ErrLeadNotFound
	}

	e.locks.Lock(lead.Phone)
	defer e.locks.Unlock(lead.Phone)

	step := models.StepPaused
	if !paused {
		step = models.StepStart
	}
	lead, err = e.store.UpdateLead(lead.ID, models.LeadUpdate{BotStep: &step})
	if err != nil {
		return nil, fmt.Errorf("set bot paused failed: %w", err)
	}
	slog.Info("Engine.SetBotPaused", "leadID", lead.ID, "paused", paused)
	return lead, nil
}

func (e *Engine) findOrCreateLead(phone string) (*models.Lead, error) {
	lead, err := e.store.FindLeadByPhone(phone)
	if err != nil {
		return nil, fmt.Errorf("find lead failed: %w", err)
	}
	if lead != nil {
		return lead, nil
	}

	lead = &models.Lead{
		Phone:   phone,
		Stage:   models.StageNew,
		Status:  models.StatusNew,
		BotStep: models.StepStart,
		BotData: models.BotData{},
	}
	if err := e.store.CreateLead(lead); err != nil {
		return nil, fmt.Errorf("create lead failed: %w", err)
	}
	slog.Info("Engine.findOrCreateLead: new lead", "leadID", lead.ID, "phone", phone)
	return lead, nil
}

func (e *Engine) markProcessed(messageID string) {
	if messageID == "" {
		return
	}
	if err := e.dedup.MarkProcessed(messageID); err != nil {
		slog.Error("Engine.markProcessed failed", "messageID", messageID, "error", err)
	}
}

func (e *Engine) deleteInbound(messageID string) {
	if messageID == "" {
		return
	}
	if err := e.dedup.DeleteInbound(messageID); err != nil {
		slog.Error("Engine.deleteInbound failed", "messageID", messageID, "error", err)
	}
}

func botStepPtr(s models.BotStep) *models.BotStep { return &s }
