package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/ashita-ai/tripwire/internal/cache"
	"github.com/ashita-ai/tripwire/internal/ratelimit"
)

// ErrCheckNotFound is returned when an identifier is not registered.
var ErrCheckNotFound = errors.New("guard: check not found")

// ErrNoFactory is returned when a registered check has no factory.
var ErrNoFactory = errors.New("guard: no factory registered")

// Evaluator computes a Verdict for non-blank text. Returning an error means
// the check could not make a judgment; the caller blocks by default.
type Evaluator interface {
	Evaluate(ctx context.Context, text string, ec EvalContext) (Verdict, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, text string, ec EvalContext) (Verdict, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, text string, ec EvalContext) (Verdict, error) {
	return f(ctx, text, ec)
}

// Factory constructs an Evaluator from effective parameters.
type Factory func(p Params) (Evaluator, error)

// Services are the process-wide collaborators shared by every built check.
// A nil Cache disables caching; a nil Limiter disables rate windows.
type Services struct {
	Cache     *cache.Cache
	Limiter   ratelimit.Limiter
	Telemetry *Telemetry
}

type registration struct {
	desc    Descriptor
	factory Factory
}

// Registry maps check identifiers to descriptors and factories. It is safe
// for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration

	strict bool
	svc    Services
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStrictDirections makes Register reject a re-registration that changes
// a check's direction instead of warning and overwriting.
func WithStrictDirections(strict bool) RegistryOption {
	return func(r *Registry) { r.strict = strict }
}

// WithServices injects the shared cache, limiter, and telemetry.
func WithServices(svc Services) RegistryOption {
	return func(r *Registry) { r.svc = svc }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]registration),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.svc.Telemetry == nil {
		r.svc.Telemetry = NewTelemetry(logger, nil)
	}
	return r
}

// Register adds or replaces a check. The descriptor is copied; later changes
// to the caller's value have no effect.
func (r *Registry) Register(d Descriptor, f Factory) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}
	if d.Enabled && f == nil {
		return fmt.Errorf("guard: register %s: enabled check needs a factory", d.ID)
	}
	d.SubThresholds = maps.Clone(d.SubThresholds)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[d.ID]; ok && prev.desc.Direction != d.Direction {
		if r.strict {
			return fmt.Errorf("guard: register %s: direction change %s -> %s rejected", d.ID, prev.desc.Direction, d.Direction)
		}
		r.logger.Warn("guard: check re-registered with a different direction",
			"check_id", d.ID, "old_direction", prev.desc.Direction, "new_direction", d.Direction)
	}
	r.entries[d.ID] = registration{desc: d, factory: f}
	return nil
}

func validateDescriptor(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("guard: register: empty check id")
	}
	switch d.Direction {
	case DirectionInput, DirectionOutput, DirectionBoth:
	default:
		return fmt.Errorf("guard: register %s: invalid direction %q", d.ID, d.Direction)
	}
	switch d.Category {
	case CategorySafety, CategoryQuality, CategoryCompliance, CategoryPerformance:
	default:
		return fmt.Errorf("guard: register %s: invalid category %q", d.ID, d.Category)
	}
	if err := ValidThreshold(d.DefaultThreshold); err != nil {
		return fmt.Errorf("guard: register %s: default %w", d.ID, err)
	}
	for name, v := range d.SubThresholds {
		if err := ValidThreshold(v); err != nil {
			return fmt.Errorf("guard: register %s: sub-threshold %s: %w", d.ID, name, err)
		}
	}
	return nil
}

// Get returns the descriptor for id, or ErrCheckNotFound.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrCheckNotFound, id)
	}
	return cloneDescriptor(e.desc), nil
}

// HasFactory reports whether id is registered with a non-nil factory.
func (r *Registry) HasFactory(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.factory != nil
}

// List returns every descriptor, sorted by identifier.
func (r *Registry) List() []Descriptor {
	return r.filter(func(Descriptor) bool { return true })
}

// ListByDirection returns descriptors usable in dir, including checks
// declared for both directions.
func (r *Registry) ListByDirection(dir Direction) []Descriptor {
	return r.filter(func(d Descriptor) bool { return d.Direction.Allows(dir) })
}

// ListEnabled returns enabled descriptors.
func (r *Registry) ListEnabled() []Descriptor {
	return r.filter(func(d Descriptor) bool { return d.Enabled })
}

func (r *Registry) filter(keep func(Descriptor) bool) []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e.desc) {
			out = append(out, cloneDescriptor(e.desc))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Build returns a ready Check for id with the override merged onto the
// descriptor defaults.
func (r *Registry) Build(id string, ov Override) (Check, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckNotFound, id)
	}
	if e.factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, id)
	}
	params, err := resolveParams(e.desc, ov)
	if err != nil {
		return nil, err
	}
	ev, err := e.factory(params)
	if err != nil {
		return nil, fmt.Errorf("guard: build %s: %w", id, err)
	}
	return newCheck(cloneDescriptor(e.desc), params, ev, r.svc, r.logger), nil
}

func cloneDescriptor(d Descriptor) Descriptor {
	d.SubThresholds = maps.Clone(d.SubThresholds)
	return d
}
