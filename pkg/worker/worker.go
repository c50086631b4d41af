// Package worker implements the CPU-bound worker-thread facility of
// §5: a run-function executes off the event loop, and its result is
// handed back to the loop through a thread-safe, cancellable handle.
// The worker goroutine never touches core state directly; only the
// dispatched onResult callback, itself run on the loop, may.
package worker

import (
	"sync"

	"github.com/dreamware/infdserver/pkg/eventloop"
)

// Handle represents one outstanding worker operation. Cancel detaches
// it from the loop: a result produced after Cancel is simply
// discarded rather than delivered.
type Handle struct {
	mu        sync.Mutex
	cancelled bool
	done      func()
}

// Run starts fn on a new goroutine. When fn returns, onResult is
// posted to loop and invoked on the loop goroutine, unless the
// returned Handle was cancelled first, in which case the result is
// dropped and the loop is simply detached from.
func Run(loop *eventloop.Loop, fn func() (interface{}, error), onResult func(interface{}, error)) *Handle {
	h := &Handle{done: loop.Enter()}

	go func() {
		result, err := fn()

		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()

		defer h.done()
		if cancelled {
			return
		}
		// A Post failure means the loop has already been stopped;
		// there is nothing left to deliver the result to, so it is
		// dropped rather than retried.
		_ = loop.Post(func() {
			onResult(result, err)
		})
	}()

	return h
}

// Cancel marks h's eventual result to be dropped rather than
// delivered. It does not interrupt the in-flight run-function itself,
// matching §5's "freeing its handle releases the result and detaches
// from the loop" rather than forcibly aborting off-loop work.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}
