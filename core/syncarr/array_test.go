package syncarr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/syncprim"
)

// fakeLock is a minimal WaitObject: a single released flag.
type fakeLock struct {
	event    *syncprim.Event
	released func() bool
	holders  []int64
}

func newFakeLock(released func() bool) *fakeLock {
	return &fakeLock{event: syncprim.NewEvent(), released: released}
}

func (f *fakeLock) WaitEvent(RequestType) *syncprim.Event { return f.event }
func (f *fakeLock) ReleasedFor(RequestType, int64) bool   { return f.released() }
func (f *fakeLock) HolderIDs(RequestType) []int64         { return f.holders }
func (f *fakeLock) Name() string                          { return "fakeLock" }

func setupRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	reg := NewRegistry(cfg, logger)
	t.Cleanup(reg.Close)
	return reg
}

func TestReserveAndFreeCellBookkeeping(t *testing.T) {
	reg := setupRegistry(t, Config{Instances: 1, Size: 4})
	arr := reg.Arrays()[0]
	lock := newFakeLock(func() bool { return false })

	var idxs []int
	for i := 0; i < 4; i++ {
		idx, err := arr.Reserve(lock, RequestMutex)
		require.NoError(t, err)
		idxs = append(idxs, idx)
	}
	// Invariant: the number of non-free cells equals n_reserved.
	require.Equal(t, 4, arr.NReserved())

	_, err := arr.Reserve(lock, RequestMutex)
	require.ErrorIs(t, err, ErrNoCell)

	for _, idx := range idxs {
		arr.FreeCell(idx)
	}
	require.Equal(t, 0, arr.NReserved())
	require.Equal(t, uint64(4), arr.ReservationTotal())
}

func TestWaitWakesOnSignal(t *testing.T) {
	reg := setupRegistry(t, Config{Instances: 1, Size: 4})
	arr := reg.Arrays()[0]
	lock := newFakeLock(func() bool { return false })

	idx, err := arr.Reserve(lock, RequestSharedLock)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		arr.Wait(idx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	lock.event.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake on event set")
	}
	require.Equal(t, 0, arr.NReserved(), "Wait must free its cell")
}

func TestSweepUnsticksReleasedWaiter(t *testing.T) {
	reg := setupRegistry(t, Config{Instances: 1, Size: 4})
	arr := reg.Arrays()[0]

	var released atomic.Bool
	lock := newFakeLock(func() bool { return released.Load() })

	idx, err := arr.Reserve(lock, RequestMutex)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		arr.Wait(idx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	// The lock is released but nobody sets the event: only the periodic
	// sweep can rescue the waiter.
	released.Store(true)
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return arr.signalIfFree() > 0
		}
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not unstick the waiter")
	}
}

func TestFreeCellIsIdempotent(t *testing.T) {
	reg := setupRegistry(t, Config{Instances: 1, Size: 2})
	arr := reg.Arrays()[0]
	lock := newFakeLock(func() bool { return false })

	idx, err := arr.Reserve(lock, RequestMutex)
	require.NoError(t, err)
	arr.FreeCell(idx)
	arr.FreeCell(idx)
	require.Equal(t, 0, arr.NReserved())
}
