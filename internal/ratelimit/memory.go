package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the rate state for one key: how many requests were admitted and
// when the current window ends.
type window struct {
	count   int
	resetAt time.Time
}

// WindowLimiter implements Limiter with an in-memory fixed window per key.
//
// Each key may be admitted at most limit times per period. The window for a
// key opens on its first request and resets once period has elapsed. A
// background goroutine evicts windows that ended long ago to bound memory.
type WindowLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewWindowLimiter creates a fixed-window limiter.
//   - limit: requests admitted per key per window (must be > 0)
//   - period: window length
//
// Call Close to stop the eviction goroutine.
func NewWindowLimiter(limit int, period time.Duration) *WindowLimiter {
	m := &WindowLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow admits the request if the key's current window has capacity left.
func (m *WindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		m.windows[key] = &window{count: 1, resetAt: now.Add(m.period)}
		return true, nil
	}
	if w.count >= m.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Remaining reports how many requests key may still make in its current
// window and when that window resets. Unknown or elapsed keys report a full
// window starting now.
func (m *WindowLimiter) Remaining(key string) (int, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return m.limit, now.Add(m.period)
	}
	return m.limit - w.count, w.resetAt
}

// Limit returns the per-window request cap.
func (m *WindowLimiter) Limit() int { return m.limit }

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *WindowLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleAfter = 10 * time.Minute

// cleanup periodically evicts windows that ended more than staleAfter ago.
func (m *WindowLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *WindowLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleAfter)
	for key, w := range m.windows {
		if w.resetAt.Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
