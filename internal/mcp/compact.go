package mcp

import (
	"github.com/ashita-ai/tripwire/internal/guard"
)

const maxCompactReasoning = 200

// compactEvaluation returns the parts of an evaluation an agent acts on.
// Passing checks shrink to their id; triggered or failed checks keep their
// confidence and a truncated reasoning. Verbose keeps everything.
func compactEvaluation(ev guard.Evaluation, verbose bool) map[string]any {
	m := map[string]any{
		"direction": ev.Direction,
		"blocked":   ev.Blocked,
	}
	if ev.Message != "" {
		m["message"] = ev.Message
	}
	if verbose {
		m["results"] = ev.Results
		if len(ev.Skipped) > 0 {
			m["skipped"] = ev.Skipped
		}
		return m
	}

	passed := []string{}
	var flagged []map[string]any
	for _, r := range ev.Results {
		if !r.Triggered {
			passed = append(passed, r.CheckID)
			continue
		}
		f := map[string]any{
			"check_id":   r.CheckID,
			"confidence": r.Confidence,
			"threshold":  r.Threshold,
		}
		if r.Reasoning != "" {
			f["reasoning"] = truncate(r.Reasoning, maxCompactReasoning)
		}
		if r.Error != "" {
			f["error"] = truncate(r.Error, maxCompactReasoning)
		}
		flagged = append(flagged, f)
	}
	m["passed"] = passed
	if len(flagged) > 0 {
		m["flagged"] = flagged
	}
	if len(ev.Skipped) > 0 {
		m["skipped"] = ev.Skipped
	}
	return m
}

// compactDescriptor drops fields agents don't act on.
func compactDescriptor(d guard.Descriptor) map[string]any {
	m := map[string]any{
		"id":                d.ID,
		"name":              d.Name,
		"direction":         d.Direction,
		"category":          d.Category,
		"enabled":           d.Enabled,
		"default_threshold": d.DefaultThreshold,
	}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if d.InvertedScore() {
		m["score_meaning"] = "quality: lower scores are worse"
	}
	return m
}

// truncate shortens s to at most maxLen runes, appending "..." if trimmed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
