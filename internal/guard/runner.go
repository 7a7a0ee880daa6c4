package guard

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrent bounds how many checks of one run execute at once.
const DefaultMaxConcurrent = 8

// Skip records a configured check that was not run.
type Skip struct {
	CheckID string `json:"check_id"`
	Reason  string `json:"reason"`
}

// Overrides are the per-check threshold and option overrides for one run.
type Overrides struct {
	Thresholds map[string]float64
	Options    map[string]map[string]any
}

func (o Overrides) forCheck(id string) Override {
	var ov Override
	if t, ok := o.Thresholds[id]; ok {
		ov.Threshold = &t
	}
	ov.Options = o.Options[id]
	return ov
}

// PipelineResult is the outcome of one direction's run. Results follow the
// order of the configured identifiers.
type PipelineResult struct {
	Direction Direction `json:"direction"`
	Blocked   bool      `json:"blocked"`
	Results   []Result  `json:"results"`
	Skipped   []Skip    `json:"skipped,omitempty"`
}

// Runner executes a direction's checks against one candidate text.
type Runner struct {
	registry      *Registry
	logger        *slog.Logger
	maxConcurrent int
}

// NewRunner creates a runner. maxConcurrent <= 0 uses DefaultMaxConcurrent.
func NewRunner(registry *Registry, logger *slog.Logger, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Runner{registry: registry, logger: logger, maxConcurrent: maxConcurrent}
}

// Run resolves every identifier, runs the resulting checks concurrently, and
// waits for all of them before deciding. Unknown, disabled, duplicate, and
// direction-mismatched identifiers are skipped with a warning; a check that
// cannot be built contributes a fail-closed result.
func (r *Runner) Run(ctx context.Context, dir Direction, ids []string, ov Overrides, in Input, ec EvalContext) PipelineResult {
	text := PlainText(in.Text())
	ec.Direction = dir

	out := PipelineResult{Direction: dir}
	var checks []Check
	var prebuilt []Result // fail-closed results for checks that could not be built
	order := make([]int, 0, len(ids))

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			out.Skipped = append(out.Skipped, r.skip(ctx, dir, id, "duplicate entry"))
			continue
		}
		seen[id] = true

		desc, err := r.registry.Get(id)
		switch {
		case err != nil:
			out.Skipped = append(out.Skipped, r.skip(ctx, dir, id, "unknown check"))
			continue
		case !desc.Enabled:
			out.Skipped = append(out.Skipped, r.skip(ctx, dir, id, "check disabled"))
			continue
		case !desc.Direction.Allows(dir):
			out.Skipped = append(out.Skipped, r.skip(ctx, dir, id, "check not valid for "+string(dir)))
			continue
		}

		c, err := r.registry.Build(id, ov.forCheck(id))
		if err != nil {
			r.logger.ErrorContext(ctx, "guard: check build failed, blocking by default",
				"check_id", id, "direction", string(dir), "agent_id", ec.AgentID, "error", err)
			prebuilt = append(prebuilt, FailClosed(desc, dir, desc.DefaultThreshold, err, 0))
			order = append(order, -len(prebuilt))
			continue
		}
		checks = append(checks, c)
		order = append(order, len(checks)-1)
	}

	results := make([]Result, len(checks))
	var g errgroup.Group
	g.SetLimit(r.maxConcurrent)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = c.Execute(ctx, text, ec)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	out.Results = make([]Result, 0, len(order))
	for _, idx := range order {
		var res Result
		if idx < 0 {
			res = prebuilt[-idx-1]
		} else {
			res = results[idx]
		}
		out.Blocked = out.Blocked || res.Triggered
		out.Results = append(out.Results, res)
	}
	return out
}

func (r *Runner) skip(ctx context.Context, dir Direction, id, reason string) Skip {
	r.logger.WarnContext(ctx, "guard: skipping check", "check_id", id, "direction", string(dir), "reason", reason)
	return Skip{CheckID: id, Reason: reason}
}
