// Package syncarr implements the wait array: a partitioned registry of
// suspended goroutines that the custom latches delegate blocking to. The
// latch fast paths stay atomic-only; when a goroutine must sleep it reserves
// a cell here, re-checks the lock word, and parks on the lock's event. A
// periodic sweep signals events whose lock words have since been released,
// defeating missed wake-ups, and a monitor turns pathological waits into
// diagnostics and, past a fatal threshold, a crash.
package syncarr

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/syncprim"
	commonutils "github.com/ksharma-417/yureidb/internal/common_utils"
)

var (
	// ErrNoCell is returned by Reserve when every cell of the chosen array
	// instance is occupied. Callers spin and retry; arrays are provisioned
	// at roughly goroutines/instances + 1 so this is rare.
	ErrNoCell = errors.New("wait array: no free cell")
)

// RequestType describes what kind of acquisition a waiting goroutine is
// blocked on. WaitExclusive is tracked separately from Exclusive: it means
// the writer already owns the lock word and is only draining residual
// readers, which matters both for the release predicate and for deadlock
// analysis.
type RequestType int

const (
	RequestMutex RequestType = iota
	RequestSharedLock
	RequestExclusiveLock
	RequestWaitExclusive
)

func (t RequestType) String() string {
	switch t {
	case RequestMutex:
		return "MUTEX"
	case RequestSharedLock:
		return "RWL_SHARED"
	case RequestExclusiveLock:
		return "RWL_EXCLUSIVE"
	case RequestWaitExclusive:
		return "RWL_WAIT_EXCLUSIVE"
	}
	return "UNKNOWN"
}

// WaitObject is the view of a latch the wait array needs: which event a
// given request type parks on, whether the latch has been released far
// enough for that request to proceed, and (best effort) who currently holds
// it, for deadlock analysis and long-wait reports.
type WaitObject interface {
	WaitEvent(t RequestType) *syncprim.Event
	ReleasedFor(t RequestType, waiterID int64) bool
	HolderIDs(t RequestType) []int64
	Name() string
}

// cell is one suspension slot. A cell is free iff obj == nil.
type cell struct {
	obj        WaitObject
	req        RequestType
	goid       int64
	file       string
	reservedAt time.Time
	sigCount   int64
	waiting    bool
}

// Array is one wait-array instance. Its mutex is a plain OS mutex and is
// never held while the reserving goroutine is blocked on its event
// (invariant 7).
type Array struct {
	mu        sync.Mutex
	cells     []cell
	nReserved int
	resTotal  uint64
	logger    *zap.Logger
	reg       *Registry
}

func newArray(size int, logger *zap.Logger, reg *Registry) *Array {
	return &Array{
		cells:  make([]cell, size),
		logger: logger,
		reg:    reg,
	}
}

// Reserve records (obj, req, caller) in a free cell and snapshots the
// generation of the event the caller will park on. It returns ErrNoCell if
// the instance is fully occupied.
func (a *Array) Reserve(obj WaitObject, req RequestType) (int, error) {
	goid := commonutils.GoID()
	file := commonutils.Caller(2)

	a.mu.Lock()
	if a.nReserved == len(a.cells) {
		a.mu.Unlock()
		return -1, ErrNoCell
	}
	// Start probing where the reservation counter points so that cells are
	// recycled roughly round-robin.
	start := int(a.resTotal % uint64(len(a.cells)))
	idx := -1
	for i := 0; i < len(a.cells); i++ {
		j := (start + i) % len(a.cells)
		if a.cells[j].obj == nil {
			idx = j
			break
		}
	}
	if idx < 0 {
		a.mu.Unlock()
		return -1, ErrNoCell
	}
	c := &a.cells[idx]
	c.obj = obj
	c.req = req
	c.goid = goid
	c.file = file
	c.reservedAt = time.Now()
	c.waiting = false
	a.nReserved++
	a.resTotal++
	a.mu.Unlock()

	// The event reset must happen after the cell is visible, so the sweep
	// can re-signal it if the release races with us.
	c.sigCount = obj.WaitEvent(req).Reset()
	return idx, nil
}

// Wait parks the reserving goroutine on the cell's event until its
// generation advances, then frees the cell. The array mutex is not held
// while blocked.
func (a *Array) Wait(idx int) {
	a.mu.Lock()
	c := &a.cells[idx]
	obj, req, gen, goid := c.obj, c.req, c.sigCount, c.goid
	c.waiting = true
	a.mu.Unlock()

	if a.reg != nil && a.reg.cfg.DeadlockDetect {
		a.reg.checkDeadlock(goid, obj, req)
	}
	obj.WaitEvent(req).Wait(gen)
	a.FreeCell(idx)
}

// FreeCell releases a reserved cell without waiting. Wait calls it
// implicitly; latches call it directly on the race-recovery path where the
// lock became free between Reserve and Wait.
func (a *Array) FreeCell(idx int) {
	a.mu.Lock()
	c := &a.cells[idx]
	if c.obj != nil {
		c.obj = nil
		c.waiting = false
		a.nReserved--
	}
	a.mu.Unlock()
}

// NReserved returns the number of occupied cells.
func (a *Array) NReserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nReserved
}

// ReservationTotal returns the monotonic count of reservations ever made.
func (a *Array) ReservationTotal() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resTotal
}

// signalIfFree is the unstick sweep: for every reserved cell whose wait
// object now satisfies the release predicate for its request type, set the
// event. Returns the number of events signalled.
func (a *Array) signalIfFree() int {
	type hit struct {
		obj WaitObject
		req RequestType
	}
	var hits []hit
	a.mu.Lock()
	for i := range a.cells {
		c := &a.cells[i]
		if c.obj == nil || !c.waiting {
			continue
		}
		if c.obj.ReleasedFor(c.req, c.goid) {
			hits = append(hits, hit{c.obj, c.req})
		}
	}
	a.mu.Unlock()
	// Events are set outside the array mutex: Event.Set takes the event's
	// own lock, which ranks below the array mutex but is cheap to avoid
	// holding both.
	for _, h := range hits {
		h.obj.WaitEvent(h.req).Set()
	}
	return len(hits)
}

// dumpCell logs one cell for diagnostics.
func (a *Array) dumpCell(c *cell, age time.Duration) {
	a.logger.Warn("wait array cell",
		zap.String("object", c.obj.Name()),
		zap.String("request", c.req.String()),
		zap.Int64("goroutine", c.goid),
		zap.String("reserved_at", c.file),
		zap.Duration("waited", age),
		zap.Int64s("holders", c.obj.HolderIDs(c.req)),
	)
}
