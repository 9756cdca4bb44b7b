package pagemanager

import (
	"fmt"
	"sync/atomic"

	"github.com/ksharma-417/yureidb/core/synclatch"
)

// Block is the descriptor of one cached page: the metadata record managing
// one frame. Blocks are created once at pool init and live forever, cycling
// through the state machine. List membership is intrusive, by index into
// the owning instance's block array.
//
// Field protection: state, ioState and oldFlag are guarded by the block
// mutex together with the owning pool's mutex for list transitions;
// oldestMod additionally by the flush-list mutex. fixCount, accessTime and
// modifyClock are atomics so the get fast path never takes the block mutex
// for them.
type Block struct {
	ID PageID

	state   State
	ioState IOState

	fixCount  atomic.Uint32
	newestMod atomic.Uint64
	oldestMod atomic.Uint64

	accessTime atomic.Int64

	// FreedPageClock snapshots the pool eviction counter at the last LRU
	// promotion. It is read without synchronization for the "too old?"
	// heuristic, which tolerates ±1 staleness.
	FreedPageClock uint64

	oldFlag bool

	HashNext  int32
	LRUPrev   int32
	LRUNext   int32
	FlushPrev int32
	FlushNext int32
	FreeNext  int32
	UnzipPrev int32
	UnzipNext int32

	Latch *synclatch.RWLock
	Mutex *synclatch.Mutex

	Frame    []byte
	ZipFrame []byte

	modifyClock atomic.Uint64

	// Sentinel marks a watch slot: a descriptor with no frame that only
	// ever represents "some thread is interested in this page appearing".
	Sentinel bool

	// Index is the block's own position in the instance block array.
	Index int32

	// Debug bookkeeping consumed by the pool's invariant validation.
	InFreeList  bool
	InLRUList   bool
	InFlushList bool
	InUnzipList bool
}

// Init resets every link on a freshly allocated block.
func (b *Block) Init(index int32) {
	b.Index = index
	b.state = StateFree
	b.ioState = IONone
	b.HashNext = NilIdx
	b.LRUPrev, b.LRUNext = NilIdx, NilIdx
	b.FlushPrev, b.FlushNext = NilIdx, NilIdx
	b.FreeNext = NilIdx
	b.UnzipPrev, b.UnzipNext = NilIdx, NilIdx
}

// State returns the current lifecycle state. Callers that need a stable
// answer hold the block mutex.
func (b *Block) State() State {
	return b.state
}

// SetState performs a checked state transition.
func (b *Block) SetState(to State) {
	from := b.state
	if from == to {
		return
	}
	for _, ok := range legalTransitions[from] {
		if ok == to {
			b.state = to
			return
		}
	}
	panic(fmt.Sprintf("page %s: illegal state transition %s -> %s", b.ID, from, to))
}

// ForceState installs a state without transition checking. Reserved for
// watch sentinels and pool initialization.
func (b *Block) ForceState(to State) {
	b.state = to
}

// IOState returns the I/O fix state.
func (b *Block) IOState() IOState {
	return b.ioState
}

// SetIOState moves the I/O fix state. Guarded by the block mutex.
func (b *Block) SetIOState(s IOState) {
	b.ioState = s
}

// Fix pins the block, forbidding eviction and relocation.
func (b *Block) Fix() {
	b.fixCount.Add(1)
}

// Unfix releases one pin.
func (b *Block) Unfix() {
	if b.fixCount.Add(^uint32(0)) == ^uint32(0) {
		panic(fmt.Sprintf("page %s: unfix below zero", b.ID))
	}
}

// FixCount returns the current pin count.
func (b *Block) FixCount() uint32 {
	return b.fixCount.Load()
}

// TransferFixes moves n pins onto the block at once, used when a watch
// sentinel's watchers are inherited by the real page.
func (b *Block) TransferFixes(n uint32) {
	b.fixCount.Add(n)
}

// DrainFixes removes and returns every pin, used on the sentinel side of
// the same inheritance.
func (b *Block) DrainFixes() uint32 {
	return b.fixCount.Swap(0)
}

// NewestModification returns the LSN of the latest unflushed change.
func (b *Block) NewestModification() LSN {
	return LSN(b.newestMod.Load())
}

// SetNewestModification records the latest change LSN.
func (b *Block) SetNewestModification(lsn LSN) {
	b.newestMod.Store(uint64(lsn))
}

// OldestModification returns the LSN at which the page first became dirty;
// zero means clean (invariant 2).
func (b *Block) OldestModification() LSN {
	return LSN(b.oldestMod.Load())
}

// SetOldestModification records the first-dirtying LSN. Guarded by the
// flush-list mutex.
func (b *Block) SetOldestModification(lsn LSN) {
	b.oldestMod.Store(uint64(lsn))
}

// IsDirty reports whether the page carries an unflushed modification.
func (b *Block) IsDirty() bool {
	return b.OldestModification() != 0
}

// Accessed returns the first-access time in unix nanoseconds, 0 if the page
// has not been touched since it became resident.
func (b *Block) Accessed() int64 {
	return b.accessTime.Load()
}

// SetAccessed records the first access; later calls are no-ops.
func (b *Block) SetAccessed(now int64) {
	b.accessTime.CompareAndSwap(0, now)
}

// ResetAccessed clears the access time when the block is recycled.
func (b *Block) ResetAccessed() {
	b.accessTime.Store(0)
}

// IsOld reports whether the block sits in the old segment of the LRU.
// Guarded by the pool mutex.
func (b *Block) IsOld() bool {
	return b.oldFlag
}

// SetOld moves the block between LRU segments. Guarded by the pool mutex.
func (b *Block) SetOld(old bool) {
	b.oldFlag = old
}

// ModifyClock returns the relocation/modification clock consulted by
// optimistic gets.
func (b *Block) ModifyClock() uint64 {
	return b.modifyClock.Load()
}

// BumpModifyClock invalidates outstanding optimistic references. Called
// with the block latch held exclusively or during relocation under the pool
// mutex.
func (b *Block) BumpModifyClock() {
	b.modifyClock.Add(1)
}

// Evictable reports whether the block could leave the LRU right now
// (invariant: pinned or dirty or I/O-fixed pages stay). Guarded by the
// block mutex.
func (b *Block) Evictable() bool {
	return b.FixCount() == 0 && b.ioState == IONone && b.OldestModification() == 0
}
