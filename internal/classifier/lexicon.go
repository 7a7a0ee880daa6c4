package classifier

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Lexicon is a deterministic, offline Classifier based on phrase lists. It
// backs deployments with no model configured and gives tests a stable
// classifier. It cannot follow free-form instructions.
type Lexicon struct{}

// NewLexicon returns the offline classifier.
func NewLexicon() Lexicon { return Lexicon{} }

// Phrases are matched against normalized text: lowercase, apostrophes
// removed, every other non-alphanumeric rune turned into a space.
var safetyLexicon = map[string]map[string]float64{
	"toxicity": {
		"idiot": 0.75, "stupid": 0.6, "moron": 0.75, "shut up": 0.7, "pathetic": 0.6,
		"worthless": 0.7, "garbage": 0.5, "dumb": 0.55, "loser": 0.6, "damn": 0.4,
	},
	"threat": {
		"kill you": 0.95, "hurt you": 0.85, "find where you live": 0.9, "youll regret": 0.7,
		"watch your back": 0.8, "burn down": 0.75, "beat you": 0.8, "destroy you": 0.75,
	},
	"harassment": {
		"nobody likes you": 0.75, "go away": 0.45, "you people": 0.5, "ugly": 0.55,
		"keep messaging you": 0.7, "shut your mouth": 0.8, "i know where you": 0.85,
	},
	"hate_speech": {
		"inferior race": 0.95, "subhuman": 0.95, "go back to your country": 0.9,
		"those people are animals": 0.9, "should be exterminated": 1.0,
	},
}

// Each additional distinct hit in a category raises its score by this much.
const lexiconRepeatBoost = 0.1

var (
	courtesyMarkers = []string{
		"please", "thank you", "thanks", "happy to help", "glad to help", "id be happy",
		"appreciate", "sorry for", "apologize", "let me", "i can help", "kind regards",
		"would you like", "feel free", "certainly",
	}
	rudeMarkers = []string{
		"whatever", "not my problem", "your problem", "figure it out", "deal with it",
		"stop bothering", "obviously", "read the manual", "dont care",
		"waste of time", "who cares", "shut up", "stupid", "idiot",
	}
	informalMarkers = []string{"gonna", "wanna", "lol", "dude", "yeah", "nope", "kinda", "btw", "omg"}
)

// Tone scoring: base score, courtesy bonus capped at three markers, penalty per rude marker.
const (
	toneBase        = 0.7
	toneCourtesy    = 0.1
	toneCourtesyMax = 0.3
	toneRude        = 0.25
)

// ClassifySafety implements Classifier.
func (Lexicon) ClassifySafety(_ context.Context, text string, _ map[string]any) (SafetyVerdict, error) {
	norm := normalize(text)
	v := SafetyVerdict{IsSafe: true}
	scores := make(map[string]float64, len(safetyLexicon))
	for category, phrases := range safetyLexicon {
		var best float64
		hits := 0
		for phrase, weight := range phrases {
			if containsPhrase(norm, phrase) {
				hits++
				best = math.Max(best, weight)
			}
		}
		if hits > 1 {
			best += lexiconRepeatBoost * float64(hits-1)
		}
		scores[category] = math.Min(best, 1)
	}
	v.Toxicity = scores["toxicity"]
	v.Threat = scores["threat"]
	v.Harassment = scores["harassment"]
	v.HateSpeech = scores["hate_speech"]

	for _, c := range []string{"toxicity", "threat", "harassment", "hate_speech"} {
		if scores[c] >= 0.5 {
			v.IsSafe = false
			v.Categories = append(v.Categories, c)
		}
	}
	if v.IsSafe {
		v.Reasoning = "no unsafe phrases found"
	} else {
		v.Reasoning = "matched unsafe phrases in: " + strings.Join(v.Categories, ", ")
	}
	return v, nil
}

// ClassifyTone implements Classifier.
func (Lexicon) ClassifyTone(_ context.Context, text string, _ map[string]any) (ToneVerdict, error) {
	norm := normalize(text)

	courteous := matchAll(norm, courtesyMarkers)
	rude := matchAll(norm, rudeMarkers)
	informal := matchAll(norm, informalMarkers)

	score := toneBase + math.Min(float64(len(courteous))*toneCourtesy, toneCourtesyMax) - float64(len(rude))*toneRude
	score = math.Max(0, math.Min(1, score))
	// Round to avoid float noise like 0.7999999 in persisted payloads.
	score = math.Round(score*1000) / 1000

	v := ToneVerdict{
		IsProfessional: len(rude) == 0,
		ToneScore:      score,
		Sentiment:      "neutral",
		Formality:      "neutral",
	}
	switch {
	case len(rude) > 0:
		v.Sentiment = "negative"
	case len(courteous) > 0:
		v.Sentiment = "positive"
	}
	switch {
	case len(informal) > 0:
		v.Formality = "informal"
	case len(courteous) > 0:
		v.Formality = "formal"
	}
	for _, m := range rude {
		v.Issues = append(v.Issues, "dismissive or rude phrasing: \""+m+"\"")
	}
	if len(rude) > 0 {
		v.Suggestions = append(v.Suggestions, "acknowledge the request and offer a concrete next step")
	}
	if len(informal) > 0 {
		v.Suggestions = append(v.Suggestions, "avoid slang in customer-facing replies")
	}
	if v.IsProfessional {
		v.Reasoning = "no dismissive phrasing found"
	} else {
		v.Reasoning = "reply contains dismissive phrasing"
	}
	return v, nil
}

// ClassifyInstruction implements Classifier. The lexicon cannot judge
// free-form instructions.
func (Lexicon) ClassifyInstruction(context.Context, string, string, map[string]any) (InstructionVerdict, error) {
	return InstructionVerdict{}, ErrUnsupported
}

func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(' ')
	return strings.Join(strings.Fields(b.String()), " ")
}

func containsPhrase(norm, phrase string) bool {
	return strings.Contains(" "+norm+" ", " "+phrase+" ")
}

func matchAll(norm string, phrases []string) []string {
	var out []string
	for _, p := range phrases {
		if containsPhrase(norm, p) {
			out = append(out, p)
		}
	}
	return out
}
