package flow

import (
	"strings"

	"github.com/buzzicrm/leadflow/internal/models"
)

// handoffPhrases are the wordings the assistant uses to tell the client the
// team is taking over. When confirmation is required, qualification waits for
// one of these to appear in the outbound reply.
var handoffPhrases = []string{
	"equipe vai entrar em contato",
	"equipe entrará em contato",
	"entraremos em contato",
	"vamos agendar",
	"vou agendar",
}

// StageResolver decides where a lead sits on the pipeline after each
// exchange. It is pure: same inputs, same answer, and it never errors.
type StageResolver struct {
	// RequireConfirmation gates qualification on the reply also carrying a
	// handoff phrase, in addition to the data being complete. Useful with
	// generated replies, where data extraction alone can misfire.
	RequireConfirmation bool
}

// Resolve returns the stage the lead should be in given its current stage,
// its accumulated bot data, the number of replies the bot has sent (counting
// the one being produced), and the outbound reply text.
//
// Stages a human placed the lead in are final as far as the bot is concerned:
// anything from "Em atendimento" onward is returned unchanged. Automatic
// stages only ever move forward ("Novos" → "Triagem (bot)" → "Em
// atendimento"), never back.
func (r StageResolver) Resolve(current models.Stage, data models.BotData, botMessageCount int, reply string) models.Stage {
	if models.IsManualStage(current) {
		return current
	}

	if r.isQualified(data, reply) {
		return models.StageInService
	}

	// The bot has engaged, so the lead is at least in triage.
	if botMessageCount >= 1 {
		return models.StageBotTriage
	}
	return current
}

// isQualified reports whether the lead has provided everything the team needs
// to take over: a name, a treatment of interest, and a preferred time.
func (r StageResolver) isQualified(data models.BotData, reply string) bool {
	if data[models.DataKeyName] == "" ||
		data[models.DataKeyTreatment] == "" ||
		data[models.DataKeyTime] == "" {
		return false
	}
	if !r.RequireConfirmation {
		return true
	}
	return containsHandoff(reply)
}

func containsHandoff(reply string) bool {
	lowered := strings.ToLower(reply)
	for _, phrase := range handoffPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
