package guard

import (
	"fmt"
	"math"
)

// Exceeds applies the threshold rule: a score at or above the threshold is a
// violation. The comparison is exact, so a zero score trips a zero threshold.
func Exceeds(score, threshold float64) bool {
	return score >= threshold
}

// FallsShort applies the inverted rule used by quality checks: a score
// strictly below the threshold is a violation.
func FallsShort(score, threshold float64) bool {
	return score < threshold
}

// Tripped applies the rule matching the descriptor's polarity.
func (d Descriptor) Tripped(score, threshold float64) bool {
	if d.InvertedScore() {
		return FallsShort(score, threshold)
	}
	return Exceeds(score, threshold)
}

// ValidThreshold reports whether t is a usable threshold.
func ValidThreshold(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("threshold must be a finite number")
	}
	if t < 0 || t > 1 {
		return fmt.Errorf("threshold %.3f outside [0,1]", t)
	}
	return nil
}

// resolveParams merges an override onto the descriptor defaults. Overrides
// for non-configurable checks are ignored.
func resolveParams(d Descriptor, ov Override) (Params, error) {
	p := Params{Threshold: d.DefaultThreshold, Options: ov.Options}
	if ov.Threshold != nil && d.Configurable {
		if err := ValidThreshold(*ov.Threshold); err != nil {
			return Params{}, fmt.Errorf("guard: %s: %w", d.ID, err)
		}
		p.Threshold = *ov.Threshold
		// A caller override applies uniformly to every sub-score.
		if len(d.SubThresholds) > 0 {
			p.SubThresholds = make(map[string]float64, len(d.SubThresholds))
			for name := range d.SubThresholds {
				p.SubThresholds[name] = p.Threshold
			}
		}
		return p, nil
	}
	if len(d.SubThresholds) > 0 {
		p.SubThresholds = make(map[string]float64, len(d.SubThresholds))
		for name, v := range d.SubThresholds {
			p.SubThresholds[name] = v
		}
	}
	return p, nil
}
