// Package flow implements the lead conversation core: the scripted bot state
// machine, conversation data extraction, pipeline stage resolution, and the
// reply strategies that tie them together.
package flow

import (
	"fmt"
	"strings"

	"github.com/buzzicrm/leadflow/internal/models"
)

// StepResult is the outcome of processing one inbound message through the
// scripted flow: the reply to send, the step to move to, and the partial lead
// update to persist. The state machine itself performs no side effects.
type StepResult struct {
	ReplyText string
	NextStep  models.BotStep
	Updates   models.LeadUpdate
}

// Scripted bot copy, in the clinic's voice. The menu texts double as the
// keyword sources for fuzzy matching below.
const (
	replyWelcome = "Olá! 👋 Bem-vindo(a) à nossa clínica!\n\nEstou aqui para te ajudar. Qual tratamento você tem interesse?\n\n1️⃣ Implantes\n2️⃣ Lentes de contato dental\n3️⃣ Clareamento\n4️⃣ Aparelho ortodôntico\n5️⃣ Outros"

	replyAskGoal = "O que você busca?\n\n1️⃣ Agendar uma avaliação\n2️⃣ Tirar dúvidas sobre o tratamento\n3️⃣ Saber valores"

	replyAskPain = "Entendi! Você sente alguma dor ou desconforto no momento?"

	replyAskTime = "Qual período você prefere para um atendimento?\n\n1️⃣ Manhã (8h-12h)\n2️⃣ Tarde (13h-17h)\n3️⃣ Noite (18h-20h)"

	replyFallbackHandoff = "Desculpe, algo deu errado. Vou transferir você para nossa equipe! 🙏"
)

// Treatment labels stored on the lead.
const (
	TreatmentImplants  = "Implantes"
	TreatmentVeneers   = "Lentes de contato"
	TreatmentWhitening = "Clareamento"
	TreatmentBraces    = "Aparelho ortodôntico"
	TreatmentOther     = "Outros"
)

// Goal labels stored in bot data.
const (
	GoalSchedule  = "Agendar avaliação"
	GoalQuestions = "Tirar dúvidas"
	GoalPricing   = "Saber valores"
)

// Time bucket labels stored in bot data.
const (
	TimeMorning   = "Manhã (8h-12h)"
	TimeAfternoon = "Tarde (13h-17h)"
	TimeEvening   = "Noite (18h-20h)"
	TimeAny       = "Qualquer horário"
)

// ProcessMessage advances the scripted conversation one step. It is a pure
// function of (current step, accumulated data, inbound text): the reply text
// is never empty, every step yields a defined result, and an unknown or
// corrupt step falls back to a safe human handoff instead of failing.
func ProcessMessage(step models.BotStep, data models.BotData, messageText string) StepResult {
	text := strings.ToLower(strings.TrimSpace(messageText))
	data = data.Clone()

	switch step {
	case models.StepStart:
		return StepResult{
			ReplyText: replyWelcome,
			NextStep:  models.StepAskTreatment,
			Updates: models.LeadUpdate{
				BotStep: stepPtr(models.StepAskTreatment),
				Stage:   stagePtr(models.StageBotTriage),
			},
		}

	case models.StepAskTreatment:
		treatment := classifyTreatment(text, messageText)
		return StepResult{
			ReplyText: fmt.Sprintf("Perfeito! %s é uma ótima escolha! 😊\n\nPara te atender melhor, qual é o seu nome?", treatment),
			NextStep:  models.StepAskName,
			Updates: models.LeadUpdate{
				BotStep:   stepPtr(models.StepAskName),
				Treatment: strPtr(treatment),
				BotData:   models.BotData{models.DataKeyTreatment: treatment},
			},
		}

	case models.StepAskName:
		name := strings.TrimSpace(messageText)
		return StepResult{
			ReplyText: fmt.Sprintf("Prazer, %s! 🤝\n\n%s", name, replyAskGoal),
			NextStep:  models.StepAskGoal,
			Updates: models.LeadUpdate{
				BotStep: stepPtr(models.StepAskGoal),
				Name:    strPtr(name),
				BotData: models.BotData{models.DataKeyName: name},
			},
		}

	case models.StepAskGoal:
		goal := classifyGoal(text, messageText)
		status := models.StatusWarm
		if goal == GoalSchedule {
			status = models.StatusHot
		}
		return StepResult{
			ReplyText: replyAskPain,
			NextStep:  models.StepAskPain,
			Updates: models.LeadUpdate{
				BotStep: stepPtr(models.StepAskPain),
				Status:  &status,
				BotData: models.BotData{models.DataKeyGoal: goal},
			},
		}

	case models.StepAskPain:
		hasPain := strings.Contains(text, "sim") || strings.Contains(text, "dor") || strings.Contains(text, "desconforto")
		pain := "Sem dor"
		prefix := "Ótimo! 👍"
		updates := models.LeadUpdate{
			BotStep: stepPtr(models.StepAskTime),
		}
		if hasPain {
			pain = "Com dor"
			prefix = "Entendo. Vamos priorizar seu atendimento! 🚨"
			updates.Status = statusPtr(models.StatusHot)
		}
		updates.BotData = models.BotData{models.DataKeyPain: pain}
		return StepResult{
			ReplyText: fmt.Sprintf("%s\n\n%s", prefix, replyAskTime),
			NextStep:  models.StepAskTime,
			Updates:   updates,
		}

	case models.StepAskTime:
		timeBucket := classifyTimeBucket(text)
		return StepResult{
			ReplyText: summaryReply(data, timeBucket),
			NextStep:  models.StepDone,
			Updates: models.LeadUpdate{
				BotStep: stepPtr(models.StepDone),
				Stage:   stagePtr(models.StageInService),
				BotData: models.BotData{models.DataKeyTime: timeBucket},
			},
		}

	case models.StepDone:
		// Absorbing: data collection is finished, the team answers from here.
		greeting := data[models.DataKeyName]
		if greeting == "" {
			greeting = "tudo bem"
		}
		return StepResult{
			ReplyText: fmt.Sprintf("Oi, %s! 👋\n\nJá anotei suas informações anteriormente. Nossa equipe vai te responder em breve!\n\nSe precisar de algo urgente, só me avisar que chamo alguém da equipe.", greeting),
			NextStep:  models.StepDone,
			Updates: models.LeadUpdate{
				BotStep: stepPtr(models.StepDone),
			},
		}

	default:
		// Unknown or corrupt cursor: hand off to a human instead of failing.
		return StepResult{
			ReplyText: replyFallbackHandoff,
			NextStep:  models.StepDone,
			Updates: models.LeadUpdate{
				BotStep: stepPtr(models.StepDone),
				Stage:   stagePtr(models.StageInService),
			},
		}
	}
}

// classifyTreatment maps free text (or a menu number) to a treatment label.
// Unmatched input is stored verbatim so the flow never stalls.
func classifyTreatment(text, raw string) string {
	switch {
	case strings.Contains(text, "implante") || text == "1":
		return TreatmentImplants
	case strings.Contains(text, "lente") || text == "2":
		return TreatmentVeneers
	case strings.Contains(text, "clarea") || text == "3":
		return TreatmentWhitening
	case strings.Contains(text, "aparelho") || strings.Contains(text, "ortodon") || text == "4":
		return TreatmentBraces
	case text == "5":
		return TreatmentOther
	default:
		return strings.TrimSpace(raw)
	}
}

// classifyGoal maps free text (or a menu number) to a goal label.
func classifyGoal(text, raw string) string {
	switch {
	case strings.Contains(text, "agendar") || strings.Contains(text, "avalia") || text == "1":
		return GoalSchedule
	case strings.Contains(text, "dúvida") || strings.Contains(text, "duvida") || text == "2":
		return GoalQuestions
	case strings.Contains(text, "valor") || strings.Contains(text, "preço") || strings.Contains(text, "preco") || text == "3":
		return GoalPricing
	default:
		return strings.TrimSpace(raw)
	}
}

// classifyTimeBucket maps free text (or a menu number) to a time bucket.
func classifyTimeBucket(text string) string {
	switch {
	case strings.Contains(text, "manhã") || strings.Contains(text, "manha") || text == "1":
		return TimeMorning
	case strings.Contains(text, "tarde") || text == "2":
		return TimeAfternoon
	case strings.Contains(text, "noite") || text == "3":
		return TimeEvening
	default:
		return TimeAny
	}
}

// summaryReply builds the closing recap sent when data collection completes.
func summaryReply(data models.BotData, timeBucket string) string {
	return fmt.Sprintf("Perfeito, %s! ✅\n\nJá registrei todas as suas informações:\n📋 Tratamento: %s\n🎯 Objetivo: %s\n⏰ Horário preferido: %s\n\nNossa equipe vai entrar em contato em breve para agendar sua avaliação! 🦷\n\nEnquanto isso, se tiver alguma dúvida, pode me chamar!",
		data[models.DataKeyName], data[models.DataKeyTreatment], data[models.DataKeyGoal], timeBucket)
}

func strPtr(s string) *string                  { return &s }
func stepPtr(s models.BotStep) *models.BotStep { return &s }
func stagePtr(s models.Stage) *models.Stage    { return &s }
func statusPtr(s models.Status) *models.Status { return &s }
