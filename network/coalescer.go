package network

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent calls for the same logical key into one
// execution whose result is delivered to every waiter.
type Coalescer struct {
	group singleflight.Group

	mu      sync.Mutex
	waiters map[string]int
}

func NewCoalescer() *Coalescer {
	return &Coalescer{waiters: make(map[string]int)}
}

// Do runs fn once per key at a time. Callers arriving while an execution for
// key is in flight attach to it instead of starting another one. The
// execution is detached from the caller's cancellation; a caller whose ctx
// ends stops waiting but the execution still completes for the others.
func (c *Coalescer) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, err error, shared bool) {
	exec := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(exec)
	})
	c.attach(key)
	defer c.detach(key)

	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

// Waiters returns how many callers are currently attached to key.
func (c *Coalescer) Waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters[key]
}

// InFlight returns the number of keys with at least one waiter.
func (c *Coalescer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Reset forgets every in-flight key so the next call for it starts a new
// execution. Executions already running finish for their current waiters.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.waiters {
		c.group.Forget(key)
	}
}

func (c *Coalescer) attach(key string) {
	c.mu.Lock()
	c.waiters[key]++
	c.mu.Unlock()
}

func (c *Coalescer) detach(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[key] <= 1 {
		delete(c.waiters, key)
		return
	}
	c.waiters[key]--
}

// Shared is a typed wrapper around Coalescer.Do.
func Shared[T any](ctx context.Context, c *Coalescer, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	v, err, shared := c.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	out, _ := v.(T)
	return out, shared, err
}
