package muatan

import (
	"context"
	"sync"
)

// CallState is the observable snapshot of a lifecycle-controlled operation.
// Exactly one of Loading/Success/Errored is set outside idle; idle has none.
type CallState[T any] struct {
	Data    T
	Err     error
	Loading bool
	Success bool
	Errored bool
}

// Idle reports whether the call is in its initial (or reset) state.
func (s CallState[T]) Idle() bool {
	return !s.Loading && !s.Success && !s.Errored
}

// CallFunc is the operation a Call drives, typically a pipeline call.
type CallFunc[T any] func(ctx context.Context) (T, error)

// CallOption configures a Call.
type CallOption[T any] func(*Call[T])

// OnSettled registers a callback invoked with the final state of each
// execution that was still current when it resolved. Superseded and canceled
// executions never trigger it.
func OnSettled[T any](fn func(CallState[T])) CallOption[T] {
	return func(c *Call[T]) {
		c.onSettled = fn
	}
}

// WithCallMetrics records supersessions on the given collector.
func WithCallMetrics[T any](mc *MetricsCollector) CallOption[T] {
	return func(c *Call[T]) {
		c.metrics = mc
	}
}

// Call binds one operation to observable loading/success/error state for a UI
// usage site. Re-entrant Execute is the normal case (search-as-you-type,
// retry buttons): every Execute bumps an internal generation counter, and a
// resolving execution publishes its outcome only while its generation is still
// current. At most one outcome per Call is ever observable and it is always
// the outcome of the most recently initiated execution, regardless of
// completion order. Safe for concurrent use.
type Call[T any] struct {
	mu        sync.Mutex
	fn        CallFunc[T]
	gen       uint64
	cancel    context.CancelFunc
	state     CallState[T]
	onSettled func(CallState[T])
	metrics   *MetricsCollector
}

// NewCall creates an idle controller around fn.
func NewCall[T any](fn CallFunc[T], opts ...CallOption[T]) *Call[T] {
	c := &Call[T]{fn: fn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Call[T]) State() CallState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Execute starts a new execution, transitioning to loading immediately and
// superseding any in-flight one. The operation runs on its own goroutine; the
// in-flight context is canceled so a cooperative fn stops early, but the
// supersession guarantee does not depend on it.
func (c *Call[T]) Execute(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = CallState[T]{Loading: true}
	fn := c.fn
	c.mu.Unlock()

	go func() {
		defer cancel()
		data, err := fn(runCtx)
		c.settle(gen, data, err)
	}()
}

// Cancel signals the in-flight execution and returns to idle. Cancellation is
// cooperative: the eventual result is discarded even if the underlying
// operation runs to completion. It does not populate the error state.
func (c *Call[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = CallState[T]{}
}

// Reset returns to idle with cleared state. An execution still in flight is
// left running but its resolution is discarded by the generation check.
func (c *Call[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.state = CallState[T]{}
}

func (c *Call[T]) settle(gen uint64, data T, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.metrics.RecordSupersession()
		return
	}
	if err != nil {
		c.state = CallState[T]{Err: err, Errored: true}
	} else {
		c.state = CallState[T]{Data: data, Success: true}
	}
	state := c.state
	callback := c.onSettled
	c.mu.Unlock()

	if callback != nil {
		callback(state)
	}
}
