package guard

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ashita-ai/tripwire/internal/model"
)

// RefusalMessage is the generic, non-diagnostic text shown to end users when
// content is blocked. Diagnostics stay in the results for operators.
const RefusalMessage = "I'm sorry, but I can't help with that request."

// Evaluation is the caller-facing outcome of Engine.Evaluate.
type Evaluation struct {
	Direction Direction `json:"direction"`
	Blocked   bool      `json:"blocked"`
	Message   string    `json:"message,omitempty"`
	Results   []Result  `json:"results"`
	Skipped   []Skip    `json:"skipped,omitempty"`
}

// Engine is the caller-facing entry point: it validates agent configurations
// and evaluates candidate text against them.
type Engine struct {
	registry  *Registry
	runner    *Runner
	validator *Validator
	logger    *slog.Logger
}

// NewEngine creates an engine over registry.
func NewEngine(registry *Registry, logger *slog.Logger, maxConcurrent int) *Engine {
	return &Engine{
		registry:  registry,
		runner:    NewRunner(registry, logger, maxConcurrent),
		validator: NewValidator(registry),
		logger:    logger,
	}
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Evaluate runs the checks configured for dir over in. The only error is an
// invalid direction; every content-level failure blocks instead.
func (e *Engine) Evaluate(ctx context.Context, dir Direction, cfg model.AgentGuardrailConfig, in Input, ec EvalContext) (Evaluation, error) {
	if _, err := ParseDirection(string(dir)); err != nil {
		return Evaluation{}, err
	}
	start := time.Now()

	res := e.runner.Run(ctx, dir, cfg.ChecksFor(string(dir)), overridesFrom(cfg), in, ec)
	ev := Evaluation{
		Direction: dir,
		Blocked:   res.Blocked,
		Results:   res.Results,
		Skipped:   res.Skipped,
	}
	if ev.Blocked {
		ev.Message = RefusalMessage
		var triggered []string
		for _, r := range res.Results {
			if r.Triggered {
				triggered = append(triggered, r.CheckID)
			}
		}
		e.logger.WarnContext(ctx, "guard: content blocked",
			"agent_id", ec.AgentID, "direction", string(dir), "triggered", triggered,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return ev, nil
}

// Validate checks an agent's guardrail configuration.
func (e *Engine) Validate(cfg model.AgentGuardrailConfig) Report {
	return e.validator.Validate(cfg)
}

// Checks lists every registered check, sorted by identifier.
func (e *Engine) Checks() []Descriptor { return e.registry.List() }

// Check returns one descriptor or ErrCheckNotFound.
func (e *Engine) Check(id string) (Descriptor, error) { return e.registry.Get(id) }

// overridesFrom converts persisted thresholds. Non-numeric values become NaN
// so the affected check fails to build and blocks rather than silently
// running with its default.
func overridesFrom(cfg model.AgentGuardrailConfig) Overrides {
	ov := Overrides{Options: cfg.Options}
	if len(cfg.Thresholds) > 0 {
		ov.Thresholds = make(map[string]float64, len(cfg.Thresholds))
		for id, raw := range cfg.Thresholds {
			t, ok := model.ParseThreshold(raw)
			if !ok {
				t = math.NaN()
			}
			ov.Thresholds[id] = t
		}
	}
	return ov
}
