package flow

import (
	"strings"
	"testing"

	"github.com/buzzicrm/leadflow/internal/models"
)

func TestProcessMessageStart(t *testing.T) {
	result := ProcessMessage(models.StepStart, models.BotData{}, "oi")

	if result.NextStep != models.StepAskTreatment {
		t.Errorf("expected next step %q, got %q", models.StepAskTreatment, result.NextStep)
	}
	if !strings.Contains(result.ReplyText, "Implantes") {
		t.Errorf("welcome reply should list treatments, got %q", result.ReplyText)
	}
	if result.Updates.Stage == nil || *result.Updates.Stage != models.StageBotTriage {
		t.Errorf("expected stage update to %q, got %v", models.StageBotTriage, result.Updates.Stage)
	}
}

func TestProcessMessageTreatmentKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"keyword implante", "quero fazer um implante", TreatmentImplants},
		{"keyword lente", "Lentes de contato dental", TreatmentVeneers},
		{"keyword clareamento", "clareamento dental", TreatmentWhitening},
		{"keyword ortodontia", "tratamento ortodontico", TreatmentBraces},
		{"menu number", "2", TreatmentVeneers},
		{"menu number other", "5", TreatmentOther},
		{"free text kept verbatim", "extração de siso", "extração de siso"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ProcessMessage(models.StepAskTreatment, models.BotData{}, tt.text)

			if result.NextStep != models.StepAskName {
				t.Fatalf("expected next step %q, got %q", models.StepAskName, result.NextStep)
			}
			if got := result.Updates.BotData[models.DataKeyTreatment]; got != tt.want {
				t.Errorf("expected treatment %q, got %q", tt.want, got)
			}
			if result.Updates.Treatment == nil || *result.Updates.Treatment != tt.want {
				t.Errorf("expected lead treatment update %q, got %v", tt.want, result.Updates.Treatment)
			}
		})
	}
}

func TestProcessMessageAskName(t *testing.T) {
	result := ProcessMessage(models.StepAskName, models.BotData{}, "  Maria Clara  ")

	if result.NextStep != models.StepAskGoal {
		t.Errorf("expected next step %q, got %q", models.StepAskGoal, result.NextStep)
	}
	if result.Updates.Name == nil || *result.Updates.Name != "Maria Clara" {
		t.Errorf("expected trimmed name update, got %v", result.Updates.Name)
	}
	if !strings.Contains(result.ReplyText, "Maria Clara") {
		t.Errorf("reply should greet by name, got %q", result.ReplyText)
	}
}

func TestProcessMessageGoalSetsStatus(t *testing.T) {
	t.Run("scheduling goal marks hot", func(t *testing.T) {
		result := ProcessMessage(models.StepAskGoal, models.BotData{}, "quero agendar uma avaliação")

		if result.Updates.Status == nil || *result.Updates.Status != models.StatusHot {
			t.Errorf("expected status hot, got %v", result.Updates.Status)
		}
	})
	t.Run("pricing goal marks warm", func(t *testing.T) {
		result := ProcessMessage(models.StepAskGoal, models.BotData{}, "saber valores")

		if result.Updates.Status == nil || *result.Updates.Status != models.StatusWarm {
			t.Errorf("expected status warm, got %v", result.Updates.Status)
		}
	})
}

func TestProcessMessagePain(t *testing.T) {
	t.Run("pain marks hot", func(t *testing.T) {
		result := ProcessMessage(models.StepAskPain, models.BotData{}, "sim, muita dor")

		if result.Updates.Status == nil || *result.Updates.Status != models.StatusHot {
			t.Errorf("expected status hot, got %v", result.Updates.Status)
		}
		if got := result.Updates.BotData[models.DataKeyPain]; got != "Com dor" {
			t.Errorf("expected pain recorded, got %q", got)
		}
	})
	t.Run("no pain keeps status", func(t *testing.T) {
		result := ProcessMessage(models.StepAskPain, models.BotData{}, "não, nada")

		if result.Updates.Status != nil {
			t.Errorf("expected no status update, got %v", *result.Updates.Status)
		}
		if result.NextStep != models.StepAskTime {
			t.Errorf("expected next step %q, got %q", models.StepAskTime, result.NextStep)
		}
	})
}

func TestProcessMessageTimeCompletesFlow(t *testing.T) {
	data := models.BotData{
		models.DataKeyName:      "Ana",
		models.DataKeyTreatment: TreatmentImplants,
		models.DataKeyGoal:      GoalSchedule,
	}
	result := ProcessMessage(models.StepAskTime, data, "de manhã, por favor")

	if result.NextStep != models.StepDone {
		t.Errorf("expected next step %q, got %q", models.StepDone, result.NextStep)
	}
	if got := result.Updates.BotData[models.DataKeyTime]; got != TimeMorning {
		t.Errorf("expected time %q, got %q", TimeMorning, got)
	}
	if result.Updates.Stage == nil || *result.Updates.Stage != models.StageInService {
		t.Errorf("expected stage %q, got %v", models.StageInService, result.Updates.Stage)
	}
	if !strings.Contains(result.ReplyText, "Ana") || !strings.Contains(result.ReplyText, TreatmentImplants) {
		t.Errorf("summary should recap collected data, got %q", result.ReplyText)
	}
}

func TestProcessMessageDoneIsAbsorbing(t *testing.T) {
	data := models.BotData{models.DataKeyName: "Ana"}

	for i := 0; i < 3; i++ {
		result := ProcessMessage(models.StepDone, data, "tem novidade?")
		if result.NextStep != models.StepDone {
			t.Fatalf("done must stay done, got %q", result.NextStep)
		}
		if result.ReplyText == "" {
			t.Fatal("done step must still reply")
		}
	}
}

func TestProcessMessageUnknownStepFallsBack(t *testing.T) {
	result := ProcessMessage(models.BotStep("garbage"), models.BotData{}, "oi")

	if result.NextStep != models.StepDone {
		t.Errorf("expected handoff to %q, got %q", models.StepDone, result.NextStep)
	}
	if result.Updates.Stage == nil || *result.Updates.Stage != models.StageInService {
		t.Errorf("expected stage %q on handoff, got %v", models.StageInService, result.Updates.Stage)
	}
}

// Every step must yield a non-empty reply and a defined next step for any
// input, including empty text.
func TestProcessMessageTotality(t *testing.T) {
	steps := []models.BotStep{
		models.StepStart, models.StepAskTreatment, models.StepAskName,
		models.StepAskGoal, models.StepAskPain, models.StepAskTime,
		models.StepDone, models.BotStep("corrupt"),
	}
	inputs := []string{"", "   ", "oi", "1", "asdfgh", strings.Repeat("x", 500)}

	for _, step := range steps {
		for _, input := range inputs {
			result := ProcessMessage(step, models.BotData{}, input)
			if result.ReplyText == "" {
				t.Errorf("step %q input %q: empty reply", step, input)
			}
			if result.NextStep == "" {
				t.Errorf("step %q input %q: empty next step", step, input)
			}
		}
	}
}
