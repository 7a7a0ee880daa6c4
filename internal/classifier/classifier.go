// Package classifier is the client side of the external natural-language
// classifier service. Checks that need semantic judgment (content safety,
// professional tone, custom instructions) call it; every error it returns is
// converted into a fail-closed check result by the caller.
package classifier

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by classifiers that cannot perform a kind of
// judgment (e.g. the offline lexicon cannot follow free-form instructions).
var ErrUnsupported = errors.New("classifier: unsupported judgment")

// ErrMalformed wraps responses that could not be interpreted.
var ErrMalformed = errors.New("classifier: malformed response")

// SafetyVerdict is the content-safety judgment. Sub-scores are in [0,1];
// higher means more severe.
type SafetyVerdict struct {
	IsSafe     bool     `json:"is_safe"`
	Toxicity   float64  `json:"toxicity"`
	Threat     float64  `json:"threat"`
	Harassment float64  `json:"harassment"`
	HateSpeech float64  `json:"hate_speech"`
	Categories []string `json:"categories"`
	Reasoning  string   `json:"reasoning"`
}

// Scores returns the sub-scores keyed by their canonical names.
func (v SafetyVerdict) Scores() map[string]float64 {
	return map[string]float64{
		"toxicity":    v.Toxicity,
		"threat":      v.Threat,
		"harassment":  v.Harassment,
		"hate_speech": v.HateSpeech,
	}
}

// ToneVerdict is the professional-tone judgment. ToneScore measures quality:
// higher is more professional.
type ToneVerdict struct {
	IsProfessional bool     `json:"is_professional"`
	ToneScore      float64  `json:"tone_score"`
	Sentiment      string   `json:"sentiment"` // positive, neutral, negative
	Formality      string   `json:"formality"` // formal, neutral, informal
	Issues         []string `json:"issues"`
	Suggestions    []string `json:"suggestions"`
	Reasoning      string   `json:"reasoning"`
}

// InstructionVerdict is the judgment for a caller-supplied instruction.
// Pass=false means the text violates the instruction.
type InstructionVerdict struct {
	Pass       bool    `json:"pass"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier scores text for the semantic checks. meta carries caller
// context (agent id, conversation metadata) and may be nil.
// Implementations must be safe for concurrent use.
type Classifier interface {
	ClassifySafety(ctx context.Context, text string, meta map[string]any) (SafetyVerdict, error)
	ClassifyTone(ctx context.Context, text string, meta map[string]any) (ToneVerdict, error)
	ClassifyInstruction(ctx context.Context, text, instruction string, meta map[string]any) (InstructionVerdict, error)
}

func validateUnit(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %.3f outside [0,1]", ErrMalformed, field, v)
	}
	return nil
}
