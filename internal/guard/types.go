// Package guard routes candidate text through the configured checks and turns
// their scores into a block/allow decision.
//
// A Registry maps check identifiers to descriptors and factories. Built
// checks share one execution envelope (text extraction, empty-input fast path,
// result cache, rate window, telemetry and fail-closed error handling), so
// individual Evaluators only compute scores. The Runner fans a direction's
// checks out concurrently and always waits for every one before deciding.
package guard

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction says which side of the agent a check inspects.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
	DirectionBoth   Direction = "both" // descriptors only; valid in either list
)

// ParseDirection parses a pipeline direction. Only input and output are
// valid for a pipeline run.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionInput, DirectionOutput:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("guard: invalid direction %q (want input or output)", s)
	}
}

// Allows reports whether a check declared with d may run in pipeline direction dir.
func (d Direction) Allows(dir Direction) bool {
	return d == dir || d == DirectionBoth
}

// Category groups checks by the kind of policy they enforce.
type Category string

const (
	CategorySafety      Category = "safety"
	CategoryQuality     Category = "quality"
	CategoryCompliance  Category = "compliance"
	CategoryPerformance Category = "performance"
)

// Descriptor is the declarative, immutable description of a registered check.
type Descriptor struct {
	ID               string             `json:"id" yaml:"id"`
	Name             string             `json:"name" yaml:"name"`
	Description      string             `json:"description" yaml:"description"`
	Direction        Direction          `json:"direction" yaml:"direction"`
	Category         Category           `json:"category" yaml:"category"`
	Enabled          bool               `json:"enabled" yaml:"enabled"`
	Configurable     bool               `json:"configurable" yaml:"configurable"`
	DefaultThreshold float64            `json:"default_threshold" yaml:"default_threshold"`
	SubThresholds    map[string]float64 `json:"sub_thresholds,omitempty" yaml:"sub_thresholds,omitempty"`
	// CacheTTL bounds how long a fresh result may be served from the cache.
	// Zero disables caching for the check.
	CacheTTL time.Duration `json:"-" yaml:"-"`
}

// InvertedScore reports whether a low score indicates a violation. Quality
// checks measure how good the text is, not how bad.
func (d Descriptor) InvertedScore() bool {
	return d.Category == CategoryQuality
}

// Result is the outcome of one check execution. It is never mutated after
// creation; cache hits return a decoded copy of the stored payload.
type Result struct {
	CheckID   string    `json:"check_id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Triggered bool      `json:"triggered"`
	// Confidence is the primary score the threshold was applied to.
	Confidence      float64            `json:"confidence"`
	Scores          map[string]float64 `json:"scores,omitempty"`
	Threshold       float64            `json:"threshold"`
	Details         json.RawMessage    `json:"details,omitempty"`
	Reasoning       string             `json:"reasoning"`
	ExecutionTimeMs int64              `json:"execution_time_ms"`
	Error           string             `json:"error,omitempty"`
}

// Verdict is what an Evaluator computes; the execution envelope turns it
// into a Result.
type Verdict struct {
	Triggered  bool
	Confidence float64
	Scores     map[string]float64
	Details    any
	Reasoning  string
}

// EvalContext carries caller context through a check execution.
type EvalContext struct {
	AgentID   string         `json:"agent_id,omitempty"`
	Direction Direction      `json:"direction,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Override is the caller-supplied configuration for one check.
type Override struct {
	Threshold *float64
	Options   map[string]any
}

// Params are the effective parameters a factory builds a check with.
type Params struct {
	Threshold     float64            `json:"threshold"`
	SubThresholds map[string]float64 `json:"sub_thresholds,omitempty"`
	Options       map[string]any     `json:"options,omitempty"`
}

// SubThreshold returns the cutoff for a named sub-score, falling back to
// the main threshold.
func (p Params) SubThreshold(name string) float64 {
	if v, ok := p.SubThresholds[name]; ok {
		return v
	}
	return p.Threshold
}
