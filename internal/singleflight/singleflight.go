package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group deduplicates concurrent calls sharing a key. The first caller owns the
// call; later callers attach to it and receive the same value and error.
//
// The shared work runs detached from every caller's context: a caller whose
// context is cancelled stops waiting but does not abort the work for others.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
	dups int
}

// New creates a new Group.
func New[T any]() *Group[T] {
	return &Group[T]{
		m: make(map[string]*call[T]),
	}
}

// Do runs fn once per key at a time. shared reports whether the result was
// delivered to more than one caller. fn receives a context that keeps the
// values of the owner's ctx but is never cancelled by it.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		return g.wait(ctx, c, true)
	}

	c := &call[T]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, c, fn)

	return g.wait(ctx, c, false)
}

// TryDo starts fn only when no call for key is in flight. Otherwise it returns
// ErrInProgress without waiting.
func (g *Group[T]) TryDo(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	g.mu.Lock()
	if _, ok := g.m[key]; ok {
		g.mu.Unlock()
		var zero T
		return zero, ErrInProgress
	}

	c := &call[T]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, c, fn)

	v, err, _ := g.wait(ctx, c, false)
	return v, err
}

// InFlight reports whether a call for key is currently running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Forget drops the in-flight record for key so the next Do starts a new call.
// Callers already attached still receive the original result.
func (g *Group[T]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

func (g *Group[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("singleflight: panic in call %q: %v", key, r)
		}

		// Remove before releasing waiters so callers arriving afterwards start fresh.
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn(ctx)
}

func (g *Group[T]) wait(ctx context.Context, c *call[T], dup bool) (T, error, bool) {
	select {
	case <-c.done:
		g.mu.Lock()
		shared := dup || c.dups > 0
		g.mu.Unlock()
		return c.val, c.err, shared
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err(), dup
	}
}
