// Package sysctx supplies snapshots of the desktop environment that
// conditional triggers evaluate against.
package sysctx

import (
	"context"
	"sync"
	"time"

	"autotask/internal/task"
)

// Provider produces a point-in-time view of the system.
type Provider interface {
	Snapshot(ctx context.Context) (task.SystemContext, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (task.SystemContext, error)

func (f ProviderFunc) Snapshot(ctx context.Context) (task.SystemContext, error) {
	return f(ctx)
}

// Static always returns the same context. Useful for tests and for
// deployments without a desktop probe.
type Static struct {
	Context task.SystemContext
}

func (s Static) Snapshot(context.Context) (task.SystemContext, error) {
	c := s.Context
	c.CurrentTime = time.Now()
	return c, nil
}

// DefaultTTL bounds how stale a cached snapshot may get before the next
// read hits the underlying provider again.
const DefaultTTL = 2 * time.Second

// Cached wraps a Provider with a short-lived snapshot cache so a burst of
// trigger evaluations within one scheduler tick shares one probe.
type Cached struct {
	inner Provider
	ttl   time.Duration

	mu      sync.Mutex
	last    task.SystemContext
	fetched time.Time
	valid   bool
}

// NewCached wraps inner. A non-positive ttl falls back to DefaultTTL.
func NewCached(inner Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{inner: inner, ttl: ttl}
}

func (c *Cached) Snapshot(ctx context.Context) (task.SystemContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && time.Since(c.fetched) < c.ttl {
		return c.last, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh bypasses the cache and probes immediately.
func (c *Cached) Refresh(ctx context.Context) (task.SystemContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cached) refreshLocked(ctx context.Context) (task.SystemContext, error) {
	snap, err := c.inner.Snapshot(ctx)
	if err != nil {
		// A stale snapshot beats failing the whole tick.
		if c.valid {
			return c.last, nil
		}
		return task.SystemContext{}, err
	}
	c.last = snap
	c.fetched = time.Now()
	c.valid = true
	return snap, nil
}
