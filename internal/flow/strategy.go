package flow

import (
	"context"
	"log/slog"

	"github.com/buzzicrm/leadflow/internal/models"
)

// ReplyResult is what a strategy hands back to the engine: the outbound reply
// plus the lead mutations the message produced. ReplyText is never empty.
type ReplyResult struct {
	ReplyText string
	Updates   models.LeadUpdate
}

// ReplyStrategy produces the bot's reply to one inbound client message.
// Implementations must be safe for concurrent use; the engine serializes
// calls per lead, not globally.
type ReplyStrategy interface {
	Reply(ctx context.Context, lead *models.Lead, messageText string, history []models.Message) (ReplyResult, error)
}

// ScriptedStrategy drives the fixed question-by-question flow.
type ScriptedStrategy struct{}

// NewScriptedStrategy returns the scripted conversation strategy.
func NewScriptedStrategy() *ScriptedStrategy {
	return &ScriptedStrategy{}
}

// Reply advances the state machine one step. It cannot fail: unknown steps
// resolve to a safe handoff inside ProcessMessage. Clients volunteer facts
// out of turn ("quero implante" as the very first message), so extraction
// runs on every inbound alongside the script and fills whatever the current
// question did not cover.
func (s *ScriptedStrategy) Reply(_ context.Context, lead *models.Lead, messageText string, _ []models.Message) (ReplyResult, error) {
	result := ProcessMessage(lead.BotStep, lead.BotData, messageText)
	updates := result.Updates

	extracted := ExtractBotData(messageText)
	if len(extracted) > 0 {
		if updates.BotData == nil {
			updates.BotData = models.BotData{}
		}
		updates.BotData = updates.BotData.Merge(extracted)
	}
	if name, ok := extracted[models.DataKeyName]; ok && updates.Name == nil {
		updates.Name = strPtr(name)
	}
	if treatment, ok := extracted[models.DataKeyTreatment]; ok && updates.Treatment == nil {
		updates.Treatment = strPtr(treatment)
	}

	// First write wins on the lead fields too: a later script answer never
	// displaces a value captured earlier in the conversation.
	if lead.Name != "" {
		updates.Name = nil
	}
	if lead.Treatment != "" {
		updates.Treatment = nil
	}

	return ReplyResult{ReplyText: result.ReplyText, Updates: updates}, nil
}

// ReplyGenerator produces a free-form reply from the conversation history.
// Satisfied by genai.Client.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, latest string, history []models.Message) (string, error)
}

// fallbackReply is sent when generation fails; the conversation must never go
// silent on the client.
const fallbackReply = "Olá! 😊 Recebi sua mensagem! Nossa equipe vai te responder em breve. Se preferir, me conta qual tratamento você tem interesse que já adianto seu atendimento!"

// GeneratedStrategy answers with model-generated text while still harvesting
// structured data from each message and moving the lead along the pipeline.
type GeneratedStrategy struct {
	generator ReplyGenerator
	resolver  StageResolver
}

// NewGeneratedStrategy returns a strategy backed by the given generator.
func NewGeneratedStrategy(generator ReplyGenerator, resolver StageResolver) *GeneratedStrategy {
	return &GeneratedStrategy{generator: generator, resolver: resolver}
}

// Reply asks the generator for a response and independently extracts bot data
// and resolves the stage. Generation failures degrade to a canned reply
// rather than erroring: extraction and stage movement still happen, so a
// flaky model never stalls the pipeline.
func (g *GeneratedStrategy) Reply(ctx context.Context, lead *models.Lead, messageText string, history []models.Message) (ReplyResult, error) {
	extracted := ExtractBotData(messageText)
	merged := lead.BotData.Merge(extracted)

	updates := models.LeadUpdate{}
	if len(extracted) > 0 {
		updates.BotData = extracted
	}
	if name, ok := extracted[models.DataKeyName]; ok && lead.Name == "" {
		updates.Name = strPtr(name)
	}
	if treatment, ok := extracted[models.DataKeyTreatment]; ok && lead.Treatment == "" {
		updates.Treatment = strPtr(treatment)
	}

	replyText, err := g.generator.GenerateReply(ctx, messageText, history)
	if err != nil {
		slog.Warn("GeneratedStrategy.Reply: generation failed, using fallback", "lead_id", lead.ID, "error", err)
		replyText = fallbackReply
	}

	// This reply counts too: it will be persisted alongside the updates.
	botCount := countBotMessages(history) + 1
	if next := g.resolver.Resolve(lead.Stage, merged, botCount, replyText); next != lead.Stage {
		updates.Stage = stagePtr(next)
	}

	return ReplyResult{ReplyText: replyText, Updates: updates}, nil
}

func countBotMessages(history []models.Message) int {
	n := 0
	for _, msg := range history {
		if msg.From == models.SenderBot {
			n++
		}
	}
	return n
}
