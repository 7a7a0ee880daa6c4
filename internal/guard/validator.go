package guard

import (
	"fmt"
	"sort"

	"github.com/ashita-ai/tripwire/internal/model"
)

// Issue is one validation finding.
type Issue struct {
	CheckID string `json:"check_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Report separates configuration errors from warnings. Valid is true when
// there are no errors.
type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Validator checks an agent's persisted guardrail configuration against
// the registry.
type Validator struct {
	registry *Registry
}

// NewValidator creates a validator over registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate reports unknown identifiers, direction mismatches, missing
// factories, and bad thresholds as errors; disabled checks, duplicates,
// and ignored thresholds are warnings. Enabled checks are also built with
// the configured parameters so option mistakes surface here rather than
// as fail-closed results at evaluation time.
func (v *Validator) Validate(cfg model.AgentGuardrailConfig) Report {
	rep := Report{Errors: []Issue{}, Warnings: []Issue{}}
	listed := make(map[string]bool)

	v.checkList(&rep, DirectionInput, cfg.Input, cfg, listed)
	v.checkList(&rep, DirectionOutput, cfg.Output, cfg, listed)

	for _, id := range sortedKeys(cfg.Thresholds) {
		field := "thresholds." + id
		t, ok := model.ParseThreshold(cfg.Thresholds[id])
		if !ok {
			rep.errorf(id, field, "threshold must be a number, got %T", cfg.Thresholds[id])
			continue
		}
		if err := ValidThreshold(t); err != nil {
			rep.errorf(id, field, "%v", err)
			continue
		}
		desc, err := v.registry.Get(id)
		if err != nil {
			rep.warnf(id, field, "threshold supplied for unknown check")
			continue
		}
		if !desc.Configurable {
			rep.warnf(id, field, "check is not configurable, threshold will be ignored")
			continue
		}
		if !listed[id] {
			rep.warnf(id, field, "threshold supplied for a check that is not configured")
		}
	}

	for _, id := range sortedKeys(cfg.Options) {
		if _, err := v.registry.Get(id); err != nil {
			rep.warnf(id, "options."+id, "options supplied for unknown check")
		} else if !listed[id] {
			rep.warnf(id, "options."+id, "options supplied for a check that is not configured")
		}
	}

	rep.Valid = len(rep.Errors) == 0
	return rep
}

func (v *Validator) checkList(rep *Report, dir Direction, ids []string, cfg model.AgentGuardrailConfig, listed map[string]bool) {
	if len(ids) > model.MaxChecksPerList {
		rep.errorf("", string(dir), "at most %d checks per direction, got %d", model.MaxChecksPerList, len(ids))
	}
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		field := fmt.Sprintf("%s[%d]", dir, i)
		if seen[id] {
			rep.warnf(id, field, "duplicate entry, check runs once")
			continue
		}
		seen[id] = true
		listed[id] = true

		desc, err := v.registry.Get(id)
		if err != nil {
			rep.errorf(id, field, "unknown check %q", id)
			continue
		}
		if !desc.Direction.Allows(dir) {
			rep.errorf(id, field, "check %q runs on %s, not %s", id, desc.Direction, dir)
			continue
		}
		// Register refuses enabled checks without a factory, so only
		// disabled entries can lack one.
		if !desc.Enabled {
			if v.registry.HasFactory(id) {
				rep.warnf(id, field, "check %q is disabled and will be skipped", id)
			} else {
				rep.warnf(id, field, "check %q is disabled with no registered factory and will be skipped", id)
			}
			continue
		}

		ov := Override{Options: cfg.Options[id]}
		if raw, ok := cfg.Thresholds[id]; ok {
			if t, ok := model.ParseThreshold(raw); ok && ValidThreshold(t) == nil {
				ov.Threshold = &t
			}
		}
		if _, err := v.registry.Build(id, ov); err != nil {
			rep.errorf(id, field, "check %q cannot be built: %v", id, err)
		}
	}
}

func (r *Report) errorf(id, field, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{CheckID: id, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(id, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{CheckID: id, Field: field, Message: fmt.Sprintf(format, args...)})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
