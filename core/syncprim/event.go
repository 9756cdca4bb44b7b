// Package syncprim holds the small set of OS-level primitives the custom
// latches are built on: a binary event with a generation counter and a
// bounded spin/backoff helper. Everything else on the latch fast paths is
// plain sync/atomic.
package syncprim

import "sync"

// Event is a binary event with a monotonically increasing signal count.
// The count exists to close the missed-wakeup window between a waiter
// observing "locked" and parking itself: the waiter snapshots the count via
// Reset, re-checks the lock word, and Wait returns immediately if any Set
// happened after the snapshot.
type Event struct {
	mu          sync.Mutex
	cond        *sync.Cond
	isSet       bool
	signalCount int64
}

// NewEvent returns an event in the set state, matching the convention that
// a lock's event means "the lock may be free".
func NewEvent() *Event {
	e := &Event{isSet: true}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Reset clears the event and returns the current signal count. The returned
// generation must be passed to Wait.
func (e *Event) Reset() int64 {
	e.mu.Lock()
	if e.isSet {
		e.isSet = false
	}
	gen := e.signalCount
	e.mu.Unlock()
	return gen
}

// Set signals the event, waking every waiter whose generation predates this
// signal.
func (e *Event) Set() {
	e.mu.Lock()
	if !e.isSet {
		e.isSet = true
	}
	e.signalCount++
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Wait blocks until the event is set or has been set since gen was returned
// by Reset. If a Set slipped in between Reset and Wait, it returns at once.
func (e *Event) Wait(gen int64) {
	e.mu.Lock()
	for !e.isSet && e.signalCount == gen {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// IsSet reports the current state. Diagnostic use only.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSet
}
