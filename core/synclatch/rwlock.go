package synclatch

import (
	"sync"
	"sync/atomic"

	"github.com/ksharma-417/yureidb/core/syncarr"
	"github.com/ksharma-417/yureidb/core/syncprim"
	commonutils "github.com/ksharma-417/yureidb/internal/common_utils"
)

// XLockDecr is the reader bias of the lock word. The encoding:
//
//	lockWord == XLockDecr      unlocked
//	0 < lockWord < XLockDecr   XLockDecr - lockWord readers
//	lockWord == 0              one writer, exclusive
//	-XLockDecr < lockWord < 0  writer owns the word, residual readers draining
const XLockDecr int32 = 0x20000000

// RWLock is the engine's reader/writer latch. Shared fast path is one CAS
// decrement, exclusive fast path one CAS of the full bias. Contended paths
// spin, then suspend through the wait array. A writer that claimed the word
// while readers were still in waits for them to drain under the separate
// WaitExclusive request type, which keeps "wants to write, draining" and
// "wants to write, blocked behind another writer" distinguishable for
// deadlock analysis.
//
// Writer recursion is permitted for the same goroutine, including taking a
// shared latch while holding the exclusive one.
type RWLock struct {
	lockWord  atomic.Int32
	waiters   atomic.Uint32
	writer    atomic.Int64
	recursion atomic.Int32

	event       *syncprim.Event
	waitExEvent *syncprim.Event
	reg         *syncarr.Registry
	name        string

	// Reader identities, kept only when the registry runs deadlock
	// detection. Never touched on release-build fast paths.
	debugMu sync.Mutex
	readers map[int64]int
}

// NewRWLock creates an unlocked reader/writer latch.
func NewRWLock(reg *syncarr.Registry, name string) *RWLock {
	l := &RWLock{
		event:       syncprim.NewEvent(),
		waitExEvent: syncprim.NewEvent(),
		reg:         reg,
		name:        name,
	}
	l.lockWord.Store(XLockDecr)
	if reg != nil && reg.DeadlockDetect() {
		l.readers = make(map[int64]int)
	}
	return l
}

// TrySLock attempts the shared fast path.
func (l *RWLock) TrySLock() bool {
	for {
		v := l.lockWord.Load()
		if v <= 0 {
			return false
		}
		if l.lockWord.CompareAndSwap(v, v-1) {
			l.trackReader(1)
			return true
		}
	}
}

// SLock acquires the latch in shared mode.
func (l *RWLock) SLock() {
	if l.TrySLock() {
		return
	}
	goid := commonutils.GoID()
	// A writer may take a shared latch on its own exclusive lock.
	if l.writer.Load() == goid {
		l.recursion.Add(1)
		return
	}
	seed := uint32(goid) | 1
	for {
		for i := 0; i < syncprim.SpinRounds; i++ {
			if l.TrySLock() {
				return
			}
			syncprim.Backoff(&seed)
		}
		arr := l.reg.Pick()
		idx, err := arr.Reserve(l, syncarr.RequestSharedLock)
		if err != nil {
			continue
		}
		l.waiters.Store(1)
		if l.TrySLock() {
			arr.FreeCell(idx)
			return
		}
		arr.Wait(idx)
	}
}

// SUnlock releases one shared hold.
func (l *RWLock) SUnlock() {
	for {
		v := l.lockWord.Load()
		if v == 0 {
			// Exclusive holder releasing its recursive shared latch.
			l.recursion.Add(-1)
			return
		}
		if l.lockWord.CompareAndSwap(v, v+1) {
			l.trackReader(-1)
			switch v + 1 {
			case 0:
				// Last residual reader drained out under a waiting writer.
				l.waitExEvent.Set()
			case XLockDecr:
				if l.waiters.Load() != 0 {
					l.waiters.Store(0)
					l.event.Set()
				}
			}
			return
		}
	}
}

// TryXLock attempts to take the latch exclusively for goid, without
// suspending. It does wait for residual readers to drain if it wins the
// lock word.
func (l *RWLock) TryXLock(goid int64) bool {
	for {
		v := l.lockWord.Load()
		switch {
		case v == XLockDecr:
			if l.lockWord.CompareAndSwap(v, 0) {
				l.writer.Store(goid)
				return true
			}
		case v > 0:
			// Readers present and no writer: claim the word, then drain.
			if l.lockWord.CompareAndSwap(v, v-XLockDecr) {
				l.writer.Store(goid)
				l.waitForReaders(goid)
				return true
			}
		default:
			if l.writer.Load() == goid {
				l.recursion.Add(1)
				return true
			}
			return false
		}
	}
}

// XLock acquires the latch in exclusive mode.
func (l *RWLock) XLock() {
	goid := commonutils.GoID()
	if l.TryXLock(goid) {
		return
	}
	seed := uint32(goid) | 1
	for {
		for i := 0; i < syncprim.SpinRounds; i++ {
			if l.lockWord.Load() > 0 && l.TryXLock(goid) {
				return
			}
			syncprim.Backoff(&seed)
		}
		arr := l.reg.Pick()
		idx, err := arr.Reserve(l, syncarr.RequestExclusiveLock)
		if err != nil {
			continue
		}
		l.waiters.Store(1)
		if l.TryXLock(goid) {
			arr.FreeCell(idx)
			return
		}
		arr.Wait(idx)
	}
}

// waitForReaders blocks the word-owning writer until the residual readers
// have drained (lock word back at zero).
func (l *RWLock) waitForReaders(goid int64) {
	seed := uint32(goid) | 1
	for {
		for i := 0; i < syncprim.SpinRounds; i++ {
			if l.lockWord.Load() == 0 {
				return
			}
			syncprim.Backoff(&seed)
		}
		arr := l.reg.Pick()
		idx, err := arr.Reserve(l, syncarr.RequestWaitExclusive)
		if err != nil {
			continue
		}
		if l.lockWord.Load() == 0 {
			arr.FreeCell(idx)
			return
		}
		arr.Wait(idx)
	}
}

// XUnlock releases one exclusive hold.
func (l *RWLock) XUnlock() {
	if l.recursion.Load() > 0 {
		l.recursion.Add(-1)
		return
	}
	l.writer.Store(0)
	l.lockWord.Add(XLockDecr)
	if l.waiters.Load() != 0 {
		l.waiters.Store(0)
		l.event.Set()
	}
}

// Downgrade converts the caller's exclusive hold into a shared one without
// opening a window where another writer could slip in.
func (l *RWLock) Downgrade() {
	l.writer.Store(0)
	l.lockWord.Store(XLockDecr - 1)
	l.trackReader(1)
	if l.waiters.Load() != 0 {
		l.waiters.Store(0)
		l.event.Set()
	}
}

// Unlock releases the latch in the given mode.
func (l *RWLock) Unlock(shared bool) {
	if shared {
		l.SUnlock()
	} else {
		l.XUnlock()
	}
}

// Writer returns the goroutine id of the exclusive owner, 0 if none.
func (l *RWLock) Writer() int64 {
	return l.writer.Load()
}

// IsFree reports whether no latch is held in any mode. Diagnostic use.
func (l *RWLock) IsFree() bool {
	return l.lockWord.Load() == XLockDecr
}

func (l *RWLock) trackReader(delta int) {
	if l.readers == nil {
		return
	}
	goid := commonutils.GoID()
	l.debugMu.Lock()
	n := l.readers[goid] + delta
	if n <= 0 {
		delete(l.readers, goid)
	} else {
		l.readers[goid] = n
	}
	l.debugMu.Unlock()
}

// --- syncarr.WaitObject ---

// WaitEvent returns the event for a given request type; draining writers
// park on their own event so that reader wake-ups do not thunder them.
func (l *RWLock) WaitEvent(t syncarr.RequestType) *syncprim.Event {
	if t == syncarr.RequestWaitExclusive {
		return l.waitExEvent
	}
	return l.event
}

// ReleasedFor reports whether a parked request of the given type could
// proceed now.
func (l *RWLock) ReleasedFor(t syncarr.RequestType, waiterID int64) bool {
	switch t {
	case syncarr.RequestSharedLock:
		return l.lockWord.Load() > 0
	case syncarr.RequestExclusiveLock:
		return l.lockWord.Load() == XLockDecr
	case syncarr.RequestWaitExclusive:
		return l.lockWord.Load() == 0 && l.writer.Load() == waiterID
	}
	return false
}

// HolderIDs returns the holders that conflict with a request of the given
// type. A shared request conflicts only with the writer (current or
// draining); an exclusive request conflicts with the writer and, when
// deadlock detection keeps them, the readers. A draining writer's own
// request conflicts only with readers.
func (l *RWLock) HolderIDs(t syncarr.RequestType) []int64 {
	var ids []int64
	if t != syncarr.RequestWaitExclusive {
		if w := l.writer.Load(); w != 0 {
			ids = append(ids, w)
		}
	}
	if t == syncarr.RequestExclusiveLock || t == syncarr.RequestWaitExclusive {
		if l.readers != nil {
			l.debugMu.Lock()
			for goid := range l.readers {
				ids = append(ids, goid)
			}
			l.debugMu.Unlock()
		}
	}
	return ids
}

// Name identifies the latch in wait-array diagnostics.
func (l *RWLock) Name() string {
	return l.name
}
