package syncprim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventSetAfterResetUnblocks(t *testing.T) {
	e := NewEvent()
	gen := e.Reset()

	done := make(chan struct{})
	go func() {
		e.Wait(gen)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("waiter returned before the event was set")
	default:
	}

	e.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after Set")
	}
}

func TestEventMissedWakeupClosedByGeneration(t *testing.T) {
	e := NewEvent()
	gen := e.Reset()

	// A Set that lands between Reset and Wait must not be lost.
	e.Set()
	e.Reset()

	done := make(chan struct{})
	go func() {
		e.Wait(gen)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked even though a Set happened after the generation snapshot")
	}
}

func TestEventWaitReturnsImmediatelyWhenSet(t *testing.T) {
	e := NewEvent()
	require.True(t, e.IsSet(), "a new event starts set")
	e.Wait(0) // must not block
}
