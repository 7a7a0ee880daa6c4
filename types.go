package tripwire

import "time"

// Direction says which side of the agent a check inspects.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
	DirectionBoth   Direction = "both"
)

// Category groups checks by the kind of policy they enforce. Quality checks
// score how good text is, so a score below the threshold triggers them.
type Category string

const (
	CategorySafety      Category = "safety"
	CategoryQuality     Category = "quality"
	CategoryCompliance  Category = "compliance"
	CategoryPerformance Category = "performance"
)

// EvalContext is the caller context passed to a custom check.
type EvalContext struct {
	AgentID   string
	Direction Direction
	Metadata  map[string]any
}

// Verdict is what a custom check computes for one text. Confidence is the
// primary score the threshold is applied to and must be in [0,1].
type Verdict struct {
	Triggered  bool
	Confidence float64
	Scores     map[string]float64
	Details    any
	Reasoning  string
}

// CheckDefinition declares a custom check registered alongside the built-ins.
type CheckDefinition struct {
	ID               string
	Name             string
	Description      string
	Direction        Direction
	Category         Category
	DefaultThreshold float64
	// Configurable lets agent configurations override the threshold.
	Configurable bool
	// CacheTTL bounds how long a result may be reused. Zero disables caching.
	CacheTTL time.Duration
	// New builds the evaluator for the effective threshold and options of one
	// agent configuration.
	New func(threshold float64, options map[string]any) (Evaluator, error)
}

// ExecutionRecord is the audit record emitted for every check execution.
// ContentPreview is redacted before it leaves the pipeline.
type ExecutionRecord struct {
	ID              string
	CheckID         string
	AgentID         string
	Direction       Direction
	ExecutionTimeMs int64
	Success         bool
	Triggered       bool
	CacheHit        bool
	Error           string
	ContentPreview  string
	Timestamp       time.Time
}
