package checks

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/pii"
)

// perMatchConfidence is the confidence each PII match adds, saturating at 1.
const perMatchConfidence = 0.3

// PIIDetectionDescriptor describes the privacy check.
func PIIDetectionDescriptor() guard.Descriptor {
	return guard.Descriptor{
		ID:               IDPIIDetection,
		Name:             "PII Detection",
		Description:      "Detects emails, phone numbers, SSNs, payment cards, and street addresses in user input.",
		Direction:        guard.DirectionInput,
		Category:         guard.CategoryCompliance,
		Enabled:          true,
		Configurable:     true,
		DefaultThreshold: 0.3,
		CacheTTL:         shortTTL,
	}
}

// PIIOptions restricts the detector to a subset of types.
type PIIOptions struct {
	Types []string `mapstructure:"types"`
}

// PIIDetails is the detail payload of a privacy result.
type PIIDetails struct {
	ContainsPII   bool        `json:"contains_pii"`
	PIITypes      []string    `json:"pii_types"`
	Matches       []pii.Match `json:"matches"`
	SanitizedText string      `json:"sanitized_text"`
}

type piiDetection struct {
	detector  *pii.Detector
	threshold float64
}

// NewPIIDetection returns the factory for the privacy check. It needs no
// classifier.
func NewPIIDetection() guard.Factory {
	return func(p guard.Params) (guard.Evaluator, error) {
		var opts PIIOptions
		if err := decodeOptions(p.Options, &opts); err != nil {
			return nil, err
		}
		types := make([]pii.Type, 0, len(opts.Types))
		for _, t := range opts.Types {
			if !pii.ValidType(pii.Type(t)) {
				return nil, fmt.Errorf("unknown pii type %q", t)
			}
			types = append(types, pii.Type(t))
		}
		return &piiDetection{detector: pii.NewDetector(types...), threshold: p.Threshold}, nil
	}
}

func (c *piiDetection) Evaluate(_ context.Context, text string, _ guard.EvalContext) (guard.Verdict, error) {
	matches := c.detector.Find(text)
	confidence := math.Min(float64(len(matches))*perMatchConfidence, 1.0)
	// Round away float noise (0.3*3 = 0.8999999999999999).
	confidence = math.Round(confidence*1000) / 1000

	seen := make(map[string]bool)
	types := []string{}
	for _, m := range matches {
		if !seen[string(m.Type)] {
			seen[string(m.Type)] = true
			types = append(types, string(m.Type))
		}
	}
	sort.Strings(types)
	if matches == nil {
		matches = []pii.Match{}
	}

	triggered := len(matches) > 0 && guard.Exceeds(confidence, c.threshold)
	reasoning := "no personal information found"
	if len(matches) > 0 {
		reasoning = fmt.Sprintf("found %d PII match(es): %v", len(matches), types)
	}
	return guard.Verdict{
		Triggered:  triggered,
		Confidence: confidence,
		Details: PIIDetails{
			ContainsPII:   len(matches) > 0,
			PIITypes:      types,
			Matches:       matches,
			SanitizedText: pii.Sanitize(text, matches),
		},
		Reasoning: reasoning,
	}, nil
}
