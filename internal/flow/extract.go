package flow

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/buzzicrm/leadflow/internal/models"
)

// Extraction exists for the generated-reply mode, where no scripted step tells
// us which field the client just answered. It scans each inbound message for
// treatment keywords, time preferences and self-introductions, and merges the
// findings into the lead's bot data without ever overwriting a value already
// captured.

var treatmentKeywords = []struct {
	keyword string
	label   string
}{
	{"implante", TreatmentImplants},
	{"lente", TreatmentVeneers},
	{"clarea", TreatmentWhitening},
	{"aparelho", TreatmentBraces},
	{"ortodon", TreatmentBraces},
}

var (
	selfIntroRegex = regexp.MustCompile(`(?i)(?:meu nome é|me chamo|sou [oa]|pode me chamar de)\s+([\p{L}]+(?:\s+[\p{L}]+)?)`)
	hourRegex      = regexp.MustCompile(`\b(\d{1,2})\s*(?:h|hs|hrs|horas?)?\b`)
)

// greetingDenylist holds words that look like names when a short message is
// capitalized but are not.
var greetingDenylist = map[string]bool{
	"oi": true, "olá": true, "ola": true, "bom": true, "boa": true,
	"dia": true, "tarde": true, "noite": true, "obrigado": true,
	"obrigada": true, "sim": true, "não": true, "nao": true, "ok": true,
	"quero": true, "gostaria": true, "valores": true, "valor": true,
	"tudo": true, "bem": true,
}

// ExtractBotData inspects one inbound message and returns the fields it can
// infer. The result is meant to be merged first-write-wins into existing bot
// data: extraction is additive and a later message never replaces what an
// earlier one established.
func ExtractBotData(messageText string) models.BotData {
	text := strings.ToLower(strings.TrimSpace(messageText))
	out := models.BotData{}
	if text == "" {
		return out
	}

	for _, tk := range treatmentKeywords {
		if strings.Contains(text, tk.keyword) {
			out[models.DataKeyTreatment] = tk.label
			break
		}
	}

	if bucket := extractTimeBucket(text); bucket != "" {
		out[models.DataKeyTime] = bucket
	}

	if name := extractName(messageText); name != "" {
		out[models.DataKeyName] = name
	}

	return out
}

// extractTimeBucket recognizes period words first, then explicit hours
// ("às 15h", "as 9 horas") mapped to the same buckets the scripted flow uses.
func extractTimeBucket(text string) string {
	switch {
	case strings.Contains(text, "manhã") || strings.Contains(text, "manha"):
		return TimeMorning
	case strings.Contains(text, "tarde"):
		return TimeAfternoon
	case strings.Contains(text, "noite"):
		return TimeEvening
	}

	m := hourRegex.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	switch {
	case hour >= 6 && hour <= 11:
		return TimeMorning
	case hour >= 12 && hour <= 17:
		return TimeAfternoon
	case hour >= 18 && hour <= 21:
		return TimeEvening
	}
	return ""
}

// extractName tries an explicit self-introduction first, then falls back to a
// message of two to four capitalized words that is not a common greeting. A
// single bare word is too ambiguous to treat as a name without the intro.
func extractName(raw string) string {
	if m := selfIntroRegex.FindStringSubmatch(raw); m != nil {
		return titleCase(m[1])
	}

	words := strings.Fields(strings.TrimSpace(raw))
	if len(words) < 2 || len(words) > 4 {
		return ""
	}
	for _, w := range words {
		lw := strings.ToLower(w)
		if greetingDenylist[lw] {
			return ""
		}
		runes := []rune(w)
		if !unicode.IsUpper(runes[0]) {
			return ""
		}
		for _, r := range runes {
			if !unicode.IsLetter(r) {
				return ""
			}
		}
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
