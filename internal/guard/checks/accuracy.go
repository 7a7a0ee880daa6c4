package checks

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ashita-ai/tripwire/internal/guard"
)

// FactualAccuracyDescriptor describes the accuracy check. It is computed
// locally from lexical signals, so it needs no classifier.
func FactualAccuracyDescriptor() guard.Descriptor {
	return guard.Descriptor{
		ID:               IDFactualAccuracy,
		Name:             "Factual Accuracy",
		Description:      "Flags replies that make many unqualified factual claims or lean on absolute language.",
		Direction:        guard.DirectionOutput,
		Category:         guard.CategoryQuality,
		Enabled:          true,
		Configurable:     true,
		DefaultThreshold: 0.6,
		CacheTTL:         longTTL,
	}
}

// Scoring constants for the accuracy heuristic.
const (
	accuracyBase          = 0.8
	unqualifiedAllowance  = 3    // unqualified claims tolerated before penalties
	unqualifiedPenalty    = 0.1  // per claim beyond the allowance
	unqualifiedPenaltyMax = 0.4
	hedgedBonus           = 0.05 // uncertainty language alongside claims
	absoluteAllowance     = 2
	absolutePenalty       = 0.15
)

var (
	uncertaintyMarkers = []string{
		"might", "may", "could", "possibly", "probably", "perhaps", "allegedly", "reportedly",
		"likely", "unlikely", "seems", "appears", "suggests", "i think", "i believe", "approximately",
		"it is possible", "not sure", "estimated",
	}
	claimMarkers = []string{
		"is", "are", "was", "were", "will", "has", "have", "according to", "studies show",
		"research shows", "it is known", "the fact", "proven", "always", "never", "every",
	}
	absoluteMarkers = []string{"definitely", "certainly", "absolutely", "undoubtedly", "guaranteed", "without a doubt"}

	sentenceSplit = regexp.MustCompile(`[.!?]+(?:\s+|$)|\n+`)
	wordRun       = regexp.MustCompile(`[a-z0-9']+`)
)

// AccuracyDetails is the detail payload of an accuracy result.
type AccuracyDetails struct {
	Sentences          int      `json:"sentences"`
	Claims             int      `json:"claims"`
	UnqualifiedClaims  int      `json:"unqualified_claims"`
	UncertaintyMarkers []string `json:"uncertainty_markers,omitempty"`
	AbsoluteTerms      int      `json:"absolute_terms"`
}

type factualAccuracy struct {
	threshold float64
}

// NewFactualAccuracy returns the factory for the accuracy check.
func NewFactualAccuracy() guard.Factory {
	return func(p guard.Params) (guard.Evaluator, error) {
		if err := decodeOptions(p.Options, &struct{}{}); err != nil {
			return nil, err
		}
		return &factualAccuracy{threshold: p.Threshold}, nil
	}
}

func (c *factualAccuracy) Evaluate(_ context.Context, text string, _ guard.EvalContext) (guard.Verdict, error) {
	d, score := scoreAccuracy(text)
	return guard.Verdict{
		Triggered:  guard.FallsShort(score, c.threshold),
		Confidence: score,
		Scores:     map[string]float64{"accuracy_score": score},
		Details:    d,
		Reasoning: fmt.Sprintf("%d of %d claims unqualified, %d absolute terms",
			d.UnqualifiedClaims, d.Claims, d.AbsoluteTerms),
	}, nil
}

// scoreAccuracy scans text sentence by sentence. A sentence with a claim
// marker and no uncertainty marker is an unqualified claim.
func scoreAccuracy(text string) (AccuracyDetails, float64) {
	var d AccuracyDetails
	hedged := 0
	seenMarker := make(map[string]bool)

	for _, s := range sentenceSplit.Split(text, -1) {
		norm := normalizeWords(s)
		if norm == "" {
			continue
		}
		d.Sentences++
		uncertain := false
		for _, m := range uncertaintyMarkers {
			if hasPhrase(norm, m) {
				uncertain = true
				if !seenMarker[m] {
					seenMarker[m] = true
					d.UncertaintyMarkers = append(d.UncertaintyMarkers, m)
				}
			}
		}
		claim := false
		for _, m := range claimMarkers {
			if hasPhrase(norm, m) {
				claim = true
				break
			}
		}
		if !claim {
			continue
		}
		d.Claims++
		if uncertain {
			hedged++
		} else {
			d.UnqualifiedClaims++
		}
	}

	all := normalizeWords(text)
	for _, m := range absoluteMarkers {
		d.AbsoluteTerms += countPhrase(all, m)
	}

	score := accuracyBase
	if d.UnqualifiedClaims > unqualifiedAllowance {
		score -= math.Min(float64(d.UnqualifiedClaims-unqualifiedAllowance)*unqualifiedPenalty, unqualifiedPenaltyMax)
	}
	if hedged > 0 {
		score += hedgedBonus
	}
	if d.AbsoluteTerms > absoluteAllowance {
		score -= absolutePenalty
	}
	score = math.Max(0, math.Min(1, score))
	return d, math.Round(score*1000) / 1000
}

func normalizeWords(s string) string {
	return strings.Join(wordRun.FindAllString(strings.ToLower(s), -1), " ")
}

func hasPhrase(norm, phrase string) bool {
	return strings.Contains(" "+norm+" ", " "+phrase+" ")
}

func countPhrase(norm, phrase string) int {
	return strings.Count(" "+norm+" ", " "+phrase+" ")
}
