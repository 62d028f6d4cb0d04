package flow

import (
	"testing"

	"github.com/buzzicrm/leadflow/internal/models"
)

func TestExtractBotDataTreatment(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"implant keyword", "quanto custa um implante?", TreatmentImplants},
		{"veneer keyword", "queria saber sobre as lentes", TreatmentVeneers},
		{"whitening stem", "clareamento a laser", TreatmentWhitening},
		{"braces keyword", "meu filho precisa de aparelho", TreatmentBraces},
		{"ortho stem", "tratamento ortodôntico", TreatmentBraces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBotData(tt.text)
			if got[models.DataKeyTreatment] != tt.want {
				t.Errorf("expected treatment %q, got %q", tt.want, got[models.DataKeyTreatment])
			}
		})
	}
}

func TestExtractBotDataTime(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"period word morning", "prefiro de manhã", TimeMorning},
		{"period word afternoon", "pode ser à tarde", TimeAfternoon},
		{"period word evening", "só consigo à noite", TimeEvening},
		{"explicit morning hour", "às 9h seria ótimo", TimeMorning},
		{"explicit afternoon hour", "pode ser 15 horas", TimeAfternoon},
		{"explicit evening hour", "depois das 19h", TimeEvening},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBotData(tt.text)
			if got[models.DataKeyTime] != tt.want {
				t.Errorf("expected time %q, got %q", tt.want, got[models.DataKeyTime])
			}
		})
	}

	t.Run("out of range hour ignored", func(t *testing.T) {
		got := ExtractBotData("me liga às 3h")
		if _, ok := got[models.DataKeyTime]; ok {
			t.Errorf("expected no time for out-of-range hour, got %q", got[models.DataKeyTime])
		}
	})
}

func TestExtractBotDataName(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"self intro", "meu nome é joão pedro", "João Pedro"},
		{"me chamo", "me chamo Fernanda", "Fernanda"},
		{"two capitalized words", "Ana Souza", "Ana Souza"},
		{"three capitalized words", "Ana Maria Silva", "Ana Maria Silva"},
		{"four capitalized words", "Ana Maria Silva Souza", "Ana Maria Silva Souza"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBotData(tt.text)
			if got[models.DataKeyName] != tt.want {
				t.Errorf("expected name %q, got %q", tt.want, got[models.DataKeyName])
			}
		})
	}

	noName := []struct {
		name string
		text string
	}{
		{"greeting", "Oi"},
		{"compound greeting", "Boa tarde"},
		{"bare single word", "Carlos"},
		{"lowercase words", "ana souza"},
		{"long sentence", "Quero Saber Mais Sobre Implantes Dentais"},
		{"thanks", "Obrigada"},
	}
	for _, tt := range noName {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBotData(tt.text)
			if name, ok := got[models.DataKeyName]; ok {
				t.Errorf("expected no name, got %q", name)
			}
		})
	}
}

// Extraction feeds a first-write-wins merge, so a later message must never
// displace a value an earlier one set.
func TestExtractBotDataIsAdditiveUnderMerge(t *testing.T) {
	existing := models.BotData{
		models.DataKeyTreatment: TreatmentImplants,
		models.DataKeyName:      "Ana",
	}
	extracted := ExtractBotData("na verdade prefiro clareamento, pela tarde")

	merged := existing.Merge(extracted)

	if merged[models.DataKeyTreatment] != TreatmentImplants {
		t.Errorf("merge overwrote treatment: got %q", merged[models.DataKeyTreatment])
	}
	if merged[models.DataKeyName] != "Ana" {
		t.Errorf("merge overwrote name: got %q", merged[models.DataKeyName])
	}
	if merged[models.DataKeyTime] != TimeAfternoon {
		t.Errorf("merge dropped new time: got %q", merged[models.DataKeyTime])
	}
}

func TestExtractBotDataEmptyMessage(t *testing.T) {
	if got := ExtractBotData("   "); len(got) != 0 {
		t.Errorf("expected no extraction from blank text, got %v", got)
	}
}
