package checks

import (
	"context"
	"sort"

	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/guard"
)

// ContentSafetyDescriptor describes the content-safety check.
func ContentSafetyDescriptor() guard.Descriptor {
	return guard.Descriptor{
		ID:               IDContentSafety,
		Name:             "Content Safety",
		Description:      "Blocks toxic, threatening, harassing, or hateful user input.",
		Direction:        guard.DirectionInput,
		Category:         guard.CategorySafety,
		Enabled:          true,
		Configurable:     true,
		DefaultThreshold: 0.7,
		SubThresholds: map[string]float64{
			"toxicity":    0.7,
			"threat":      0.5,
			"harassment":  0.6,
			"hate_speech": 0.5,
		},
		CacheTTL: shortTTL,
	}
}

// SafetyDetails is the detail payload of a content-safety result.
type SafetyDetails struct {
	IsSafe     bool               `json:"is_safe"`
	Categories []string           `json:"categories,omitempty"`
	Violated   []string           `json:"violated,omitempty"`
	Cutoffs    map[string]float64 `json:"cutoffs"`
}

type contentSafety struct {
	cls    classifier.Classifier
	params guard.Params
}

// NewContentSafety returns the factory for the content-safety check.
func NewContentSafety(cls classifier.Classifier) guard.Factory {
	return func(p guard.Params) (guard.Evaluator, error) {
		if err := decodeOptions(p.Options, &struct{}{}); err != nil {
			return nil, err
		}
		return &contentSafety{cls: cls, params: p}, nil
	}
}

// Evaluate triggers when the classifier calls the text unsafe or any
// sub-score reaches its cutoff. One severe category is enough.
func (c *contentSafety) Evaluate(ctx context.Context, text string, ec guard.EvalContext) (guard.Verdict, error) {
	v, err := c.cls.ClassifySafety(ctx, text, ec.Metadata)
	if err != nil {
		return guard.Verdict{}, err
	}

	scores := v.Scores()
	cutoffs := make(map[string]float64, len(scores))
	var violated []string
	var top float64
	for name, s := range scores {
		cut := c.params.SubThreshold(name)
		cutoffs[name] = cut
		if guard.Exceeds(s, cut) {
			violated = append(violated, name)
		}
		if s > top {
			top = s
		}
	}
	sort.Strings(violated)

	reasoning := v.Reasoning
	if reasoning == "" {
		reasoning = "classifier returned no reasoning"
	}
	return guard.Verdict{
		Triggered:  !v.IsSafe || len(violated) > 0,
		Confidence: top,
		Scores:     scores,
		Details: SafetyDetails{
			IsSafe:     v.IsSafe,
			Categories: v.Categories,
			Violated:   violated,
			Cutoffs:    cutoffs,
		},
		Reasoning: reasoning,
	}, nil
}
