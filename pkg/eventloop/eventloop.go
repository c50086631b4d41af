// Package eventloop implements the single-threaded cooperative
// dispatch queue of §5: every directory, session, algorithm, and
// transport callback is posted through one Loop and executed
// serially on whichever goroutine calls Run, so there is no shared
// mutable state reachable from more than one goroutine within the
// core.
package eventloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeebo/errs"
)

// Error is the class for loop-lifecycle violations.
var Error = errs.Class("eventloop")

// Loop is the core's single dispatch queue. The zero value is not
// usable; construct with New.
type Loop struct {
	mu       sync.Mutex
	tasks    []func()
	wake     chan struct{}
	closed   bool
	inFlight int
}

// New returns an empty, open Loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn to run on the loop goroutine, in the order posted
// relative to every other Post call. It returns an error if the loop
// has already been stopped.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Error.New("loop is closed")
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.nudge()
	return nil
}

func (l *Loop) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Enter registers one in-flight worker-thread operation (§5) against
// the loop and returns a done func the caller must invoke exactly
// once, whether the operation completed, was cancelled, or its result
// was dropped because the loop closed first. Stop refuses to tear
// down the loop while any Enter call is outstanding.
func (l *Loop) Enter() (done func()) {
	l.mu.Lock()
	l.inFlight++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
		})
	}
}

// Run drains posted tasks on the calling goroutine, blocking between
// batches until more are posted, until ctx is done or Stop is called
// from within a posted task. This goroutine is "the loop thread" of
// §5; every other package must only touch directory/session/algorithm
// state from inside a task Run executes.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		closed := l.closed
		l.mu.Unlock()

		for _, t := range tasks {
			t()
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.wake:
		}
	}
}

// Stop closes the loop to further Post calls and wakes Run so it can
// exit. If any worker operation registered via Enter has not yet
// called its done func, that is a programming error per §5 — a
// worker in flight when its owning loop is torn down — and Stop
// panics with a message naming the count rather than silently
// leaking or racing on torn-down state.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.closed = true
	inFlight := l.inFlight
	l.mu.Unlock()
	l.nudge()

	if inFlight > 0 {
		panic(fmt.Sprintf("eventloop: stopped with %d worker operation(s) still in flight", inFlight))
	}
}
