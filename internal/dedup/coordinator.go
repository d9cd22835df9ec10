// Package dedup coalesces concurrent identical requests inside one process.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// Config controls Coordinator behavior.
type Config struct {
	// MaxEntryAge is how long a pending entry may exist before the sweep
	// removes it. It is a safety net for a generator that hangs forever;
	// callers must carry their own per-call timeouts.
	MaxEntryAge time.Duration
	// SweepInterval is how often the stale sweep runs.
	SweepInterval time.Duration
}

// Coordinator merges concurrent calls that share a key onto one in-flight
// computation. It only dedups within one process; cross-process dedup is
// owned by the job queue's idempotent job identity.
type Coordinator[T any] struct {
	mu      sync.Mutex
	pending map[string]*entry[T]
	cfg     Config
	clock   screenshot.Clock
	logger  *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type entry[T any] struct {
	done    chan struct{}
	value   T
	err     error
	started time.Time
}

// New constructs a Coordinator and starts its stale-entry sweep.
func New[T any](cfg Config, clock screenshot.Clock, logger *zap.Logger) *Coordinator[T] {
	if cfg.MaxEntryAge <= 0 {
		cfg.MaxEntryAge = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if clock == nil {
		clock = screenshot.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator[T]{
		pending: make(map[string]*entry[T]),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the sweep goroutine. Pending entries settle normally.
func (c *Coordinator[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Coalesce runs generate under key, or attaches to an in-flight run of the
// same key. Every waiter receives the same value or the same error. The
// second return reports whether this caller was deduplicated onto another
// caller's run.
func (c *Coordinator[T]) Coalesce(
	ctx context.Context,
	key string,
	generate func(context.Context) (T, error),
) (T, bool, error) {
	c.mu.Lock()
	if e, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return c.wait(ctx, e, true)
	}
	e := &entry[T]{
		done:    make(chan struct{}),
		started: c.clock.Now(),
	}
	c.pending[key] = e
	c.mu.Unlock()

	go c.run(key, e, generate)
	return c.wait(ctx, e, false)
}

// Pending returns the number of in-flight entries.
func (c *Coordinator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator[T]) run(key string, e *entry[T], generate func(context.Context) (T, error)) {
	// The generator runs on a background context: it must not die with
	// the first caller when other callers are still attached.
	defer func() {
		if rec := recover(); rec != nil {
			e.err = fmt.Errorf("generator panic: %v", rec)
			c.settle(key, e)
		}
	}()
	e.value, e.err = generate(context.Background())
	c.settle(key, e)
}

func (c *Coordinator[T]) settle(key string, e *entry[T]) {
	c.mu.Lock()
	// The sweep may have replaced the entry; only delete our own.
	if current, ok := c.pending[key]; ok && current == e {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	close(e.done)
}

func (c *Coordinator[T]) wait(ctx context.Context, e *entry[T], deduplicated bool) (T, bool, error) {
	select {
	case <-e.done:
		return e.value, deduplicated, e.err
	case <-ctx.Done():
		var zero T
		return zero, deduplicated, fmt.Errorf("wait for pending capture: %w", ctx.Err())
	}
}

func (c *Coordinator[T]) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coordinator[T]) sweep() {
	cutoff := c.clock.Now().Add(-c.cfg.MaxEntryAge)
	c.mu.Lock()
	var stale []string
	for key, e := range c.pending {
		if e.started.Before(cutoff) {
			stale = append(stale, key)
			delete(c.pending, key)
		}
	}
	c.mu.Unlock()
	for _, key := range stale {
		c.logger.Warn("swept stale pending entry", zap.String("key", key))
	}
}
