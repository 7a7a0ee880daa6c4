package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tripwire/internal/cache"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/testutil"
)

// stubCheck scores every text with a fixed score and counts evaluator calls.
type stubCheck struct {
	score float64
	err   error
	calls atomic.Int32
}

func (s *stubCheck) factory() Factory {
	return func(p Params) (Evaluator, error) {
		return EvaluatorFunc(func(context.Context, string, EvalContext) (Verdict, error) {
			s.calls.Add(1)
			if s.err != nil {
				return Verdict{}, s.err
			}
			return Verdict{
				Triggered:  Exceeds(s.score, p.Threshold),
				Confidence: s.score,
				Details:    map[string]any{"score": s.score},
				Reasoning:  "stub",
			}, nil
		}), nil
	}
}

func stubDescriptor(id string, dir Direction) Descriptor {
	return Descriptor{
		ID:               id,
		Name:             id,
		Direction:        dir,
		Category:         CategorySafety,
		Enabled:          true,
		Configurable:     true,
		DefaultThreshold: 0.5,
		CacheTTL:         time.Minute,
	}
}

// memorySink collects execution records.
type memorySink struct {
	mu   sync.Mutex
	recs []model.CheckExecution
}

func (m *memorySink) Record(rec model.CheckExecution) {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
}

func (m *memorySink) records() []model.CheckExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CheckExecution(nil), m.recs...)
}

// denyAll is a limiter whose window is always exhausted.
type denyAll struct{ calls atomic.Int32 }

func (d *denyAll) Allow(context.Context, string) (bool, error) {
	d.calls.Add(1)
	return false, nil
}
func (d *denyAll) Close() error { return nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("limiter offline")
}
func (brokenLimiter) Close() error { return nil }

// newTestRegistry builds a registry with an isolated cache and the given services.
func newTestRegistry(t *testing.T, svc Services, opts ...RegistryOption) *Registry {
	t.Helper()
	if svc.Cache == nil {
		svc.Cache = cache.New(cache.Options{})
		t.Cleanup(svc.Cache.Close)
	}
	opts = append([]RegistryOption{WithServices(svc)}, opts...)
	return NewRegistry(testutil.TestLogger(), opts...)
}

func mustRegister(t *testing.T, reg *Registry, d Descriptor, f Factory) {
	t.Helper()
	require.NoError(t, reg.Register(d, f))
}

func ptr[T any](v T) *T { return &v }
