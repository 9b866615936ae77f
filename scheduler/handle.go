// scheduler/handle.go
package scheduler

import (
	"context"
	"sync"

	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
)

// State is the lifecycle state of a work item.
type State int

const (
	StateQueued State = iota
	StateAdmitted
	StateInvoking
	StateRetrying
	StateSucceeded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateAdmitted:
		return "Admitted"
	case StateInvoking:
		return "Invoking"
	case StateRetrying:
		return "Retrying"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends the item's lifecycle.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Handle is the caller's view of a submitted work item. It resolves exactly once.
type Handle struct {
	id     string
	done   chan struct{}
	cancel func()

	mu       sync.Mutex
	state    State
	attempts int
	result   outcome.Outcome
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{}), state: StateQueued}
}

// ID returns the item's correlation ID.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed once the item has a terminal outcome.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until the item resolves or ctx is done. A ctx error only stops the
// wait; the item keeps running.
func (h *Handle) Result(ctx context.Context) (outcome.Outcome, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		return outcome.Outcome{}, ctx.Err()
	}
}

// Outcome returns the terminal outcome without blocking. The boolean is false while the
// item is still pending.
func (h *Handle) Outcome() (outcome.Outcome, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, true
	default:
		return outcome.Outcome{}, false
	}
}

// State returns the item's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Attempts returns the number of backend invocations started for the item.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Cancel withdraws the item. A queued item is removed without any backend call; an item
// mid-invocation has its backend context cancelled. The handle resolves with a
// FatalError wrapping outcome.ErrCancelled unless it already resolved.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Handle) setState(state State) {
	h.mu.Lock()
	if !h.state.Terminal() {
		h.state = state
	}
	h.mu.Unlock()
}

// beginAttempt records a new invocation and returns its 1-based number.
func (h *Handle) beginAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	if !h.state.Terminal() {
		h.state = StateAdmitted
	}
	return h.attempts
}

// finish stores the terminal outcome. It reports false if the handle already resolved;
// otherwise the caller must call complete once the Terminal event is out.
func (h *Handle) finish(out outcome.Outcome) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.result = out
	if out.Kind == outcome.KindSuccess {
		h.state = StateSucceeded
	} else {
		h.state = StateFailed
	}
	return true
}

// complete wakes everyone waiting on the handle.
func (h *Handle) complete() {
	close(h.done)
}
