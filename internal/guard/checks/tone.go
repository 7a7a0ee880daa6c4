package checks

import (
	"context"

	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/guard"
)

// ProfessionalToneDescriptor describes the tone check. Its score measures
// quality, so a score below the threshold is the violation.
func ProfessionalToneDescriptor() guard.Descriptor {
	return guard.Descriptor{
		ID:               IDProfessionalTone,
		Name:             "Professional Tone",
		Description:      "Holds agent replies to a courteous, professional tone.",
		Direction:        guard.DirectionOutput,
		Category:         guard.CategoryQuality,
		Enabled:          true,
		Configurable:     true,
		DefaultThreshold: 0.6,
		CacheTTL:         shortTTL,
	}
}

// ToneDetails is the detail payload of a tone result.
type ToneDetails struct {
	IsProfessional bool     `json:"is_professional"`
	Sentiment      string   `json:"sentiment"`
	Formality      string   `json:"formality"`
	Issues         []string `json:"issues,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

type professionalTone struct {
	cls       classifier.Classifier
	threshold float64
}

// NewProfessionalTone returns the factory for the tone check.
func NewProfessionalTone(cls classifier.Classifier) guard.Factory {
	return func(p guard.Params) (guard.Evaluator, error) {
		if err := decodeOptions(p.Options, &struct{}{}); err != nil {
			return nil, err
		}
		return &professionalTone{cls: cls, threshold: p.Threshold}, nil
	}
}

func (c *professionalTone) Evaluate(ctx context.Context, text string, ec guard.EvalContext) (guard.Verdict, error) {
	v, err := c.cls.ClassifyTone(ctx, text, ec.Metadata)
	if err != nil {
		return guard.Verdict{}, err
	}
	return guard.Verdict{
		Triggered:  !v.IsProfessional || guard.FallsShort(v.ToneScore, c.threshold),
		Confidence: v.ToneScore,
		Scores:     map[string]float64{"tone_score": v.ToneScore},
		Details: ToneDetails{
			IsProfessional: v.IsProfessional,
			Sentiment:      v.Sentiment,
			Formality:      v.Formality,
			Issues:         v.Issues,
			Suggestions:    v.Suggestions,
		},
		Reasoning: v.Reasoning,
	}, nil
}
