package pool

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/checksum"
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
	"github.com/ksharma-417/yureidb/pkg/logger"
)

// GetMode selects how Get behaves on a hit, a miss, or a watch sentinel.
type GetMode int

const (
	// GetAlways reads the page in on a miss.
	GetAlways GetMode = iota
	// GetIfInPool fails with ErrNotInPool on a miss.
	GetIfInPool
	// PeekIfInPool is GetIfInPool without disturbing the LRU position.
	PeekIfInPool
	// GetNoLatch pins without latching, regardless of the latch argument.
	GetNoLatch
	// GetIfInPoolOrWatch installs a watch sentinel on a miss and returns
	// the sentinel when one is already armed.
	GetIfInPoolOrWatch
	// GetPossiblyFreed is GetAlways for callers that tolerate racing a
	// page drop.
	GetPossiblyFreed
	// EvictIfInPool evicts a resident clean page and reports ErrNotInPool
	// either way.
	EvictIfInPool
)

// LatchMode is the block latch the caller leaves Get with.
type LatchMode int

const (
	LatchNone LatchMode = iota
	LatchShared
	LatchExclusive
)

const maxAllocRetries = 10

// Get obtains, pins, and latches a page. On a miss (for the modes that
// allow it) the page is read through the I/O collaborator, validated, and
// installed at the LRU midpoint. The returned block carries exactly one new
// pin and the requested latch; Release undoes both.
func (in *Instance) Get(id pagemanager.PageID, mode GetMode, latch LatchMode) (*pagemanager.Block, error) {
	if mode == GetNoLatch {
		latch = LatchNone
	}
	in.stats.NPageGets.Add(1)
	fold := id.Fold()
	for {
		stripe := in.hash.Stripe(fold)
		stripe.SLock()
		idx := in.hash.Lookup(id)

		if idx == pagemanager.NilIdx || in.blocks[idx].Sentinel {
			sentinel := idx != pagemanager.NilIdx
			if sentinel && mode == GetIfInPoolOrWatch {
				b := &in.blocks[idx]
				b.Fix()
				stripe.SUnlock()
				return b, nil
			}
			stripe.SUnlock()
			switch mode {
			case GetIfInPool, PeekIfInPool, EvictIfInPool:
				return nil, ErrNotInPool
			case GetIfInPoolOrWatch:
				in.watchArm(id)
				return nil, ErrNotInPool
			}
			b, err, retry := in.readPage(id, latch)
			if retry {
				continue
			}
			return b, err
		}

		b := &in.blocks[idx]
		if mode == EvictIfInPool {
			stripe.SUnlock()
			in.tryEvictPage(id, idx)
			return nil, ErrNotInPool
		}

		// Pin under the stripe lock: eviction needs the stripe exclusively,
		// so a pinned block cannot vanish under us.
		b.Mutex.Lock()
		switch b.State() {
		case pagemanager.StateFilePage, pagemanager.StateZipClean, pagemanager.StateZipDirty:
		default:
			// Concurrently being freed; start over.
			b.Mutex.Unlock()
			stripe.SUnlock()
			continue
		}
		b.Fix()
		b.Mutex.Unlock()
		stripe.SUnlock()

		if mode != PeekIfInPool {
			in.touch(b)
		}

		switch latch {
		case LatchShared:
			b.Latch.SLock()
		case LatchExclusive:
			b.Latch.XLock()
		case LatchNone:
			in.waitForReadComplete(b)
		}

		// A read that failed after we pinned frees the block; the identity
		// check detects it once the I/O slot's latch drains.
		if b.ID != id {
			switch latch {
			case LatchShared:
				b.Latch.SUnlock()
			case LatchExclusive:
				b.Latch.XUnlock()
			}
			b.Unfix()
			continue
		}
		return b, nil
	}
}

// Create allocates a file page in the pool without reading it: the caller
// promises to overwrite the whole frame. The page comes back zero-filled,
// clean, pinned, and exclusively latched, inserted at the LRU head.
func (in *Instance) Create(id pagemanager.PageID) (*pagemanager.Block, error) {
	b, err := in.allocBlock()
	if err != nil {
		return nil, err
	}
	fold := id.Fold()
	stripe := in.hash.Stripe(fold)
	stripe.XLock()
	in.mutex.Lock()
	if existing := in.hash.Lookup(id); existing != pagemanager.NilIdx && !in.blocks[existing].Sentinel {
		// Already resident; hand the allocated block back and return the
		// resident page through the normal protocol.
		b.SetState(pagemanager.StateFree)
		in.freePush(b.Index)
		in.mutex.Unlock()
		stripe.XUnlock()
		return in.Get(id, GetAlways, LatchExclusive)
	} else if existing != pagemanager.NilIdx {
		in.inheritWatch(existing, b)
	}

	for i := range b.Frame {
		b.Frame[i] = 0
	}
	b.ID = id
	b.SetState(pagemanager.StateFilePage)
	b.SetIOState(pagemanager.IONone)
	b.SetNewestModification(0)
	b.SetOldestModification(0)
	b.Fix()
	b.Latch.XLock()
	in.hash.Insert(id, b.Index)
	in.lruAdd(b.Index, false)
	b.SetAccessed(time.Now().UnixNano())
	in.mutex.Unlock()
	stripe.XUnlock()
	in.stats.NPagesCreated.Add(1)
	return b, nil
}

// Release drops the latch taken by Get/Create and unpins the block.
func (in *Instance) Release(b *pagemanager.Block, latch LatchMode) {
	switch latch {
	case LatchShared:
		b.Latch.SUnlock()
	case LatchExclusive:
		b.Latch.XUnlock()
	}
	b.Unfix()
}

// MarkModified records a modification at lsn. The caller holds the block
// latch exclusively. The first dirtying links the block into the flush
// list: at the head outside recovery, by LSN order during it.
func (in *Instance) MarkModified(b *pagemanager.Block, lsn pagemanager.LSN) {
	b.SetNewestModification(lsn)
	in.flushListMutex.Lock()
	if b.OldestModification() == 0 {
		b.SetOldestModification(lsn)
		switch {
		case in.flushRBT != nil:
			in.flushInsertSorted(b.Index)
		case in.flushHead != pagemanager.NilIdx && in.blocks[in.flushHead].OldestModification() > lsn:
			// A racing first-dirtying with a later LSN beat us to the head.
			in.flushInsertOrdered(b.Index)
		default:
			in.flushPrepend(b.Index)
		}
	}
	in.flushListMutex.Unlock()
}

// OptimisticGet revalidates a stale block pointer: if the block still holds
// the same page (modify clock unchanged) it is latched and pinned, and true
// is returned. Otherwise the caller falls back to Get.
func (in *Instance) OptimisticGet(b *pagemanager.Block, modifyClock uint64, latch LatchMode) bool {
	switch latch {
	case LatchShared:
		b.Latch.SLock()
	case LatchExclusive:
		b.Latch.XLock()
	default:
		return false
	}
	if b.State() != pagemanager.StateFilePage || b.ModifyClock() != modifyClock {
		b.Latch.Unlock(latch == LatchShared)
		return false
	}
	b.Fix()
	in.stats.NPageGets.Add(1)
	in.touch(b)
	return true
}

// touch records an access for the replacement policy: first touch stamps
// the access time; a touch of an old-segment block later than the old
// threshold after its first access promotes it to the young head. Young
// blocks are refreshed only when the pool has evicted a quarter of its
// frames since their promotion snapshot; that read is deliberately
// unsynchronized and tolerates ±1 staleness.
func (in *Instance) touch(b *pagemanager.Block) {
	now := time.Now().UnixNano()
	firstAccess := b.Accessed()
	b.SetAccessed(now)

	if !b.IsOld() {
		if in.freedPageClock.Load()-b.FreedPageClock > uint64(in.nFrames/4) {
			in.mutex.Lock()
			if b.InLRUList {
				in.lruMakeYoung(b.Index)
			}
			in.mutex.Unlock()
			in.stats.NYoungMade.Add(1)
		}
		return
	}
	if firstAccess == 0 {
		in.stats.NNotYoungMade.Add(1)
		return
	}
	if now-firstAccess > int64(in.cfg.LRUOldThresholdMS)*int64(time.Millisecond) {
		in.mutex.Lock()
		if b.InLRUList && b.IsOld() {
			in.lruMakeYoung(b.Index)
		}
		in.mutex.Unlock()
		in.stats.NYoungMade.Add(1)
	} else {
		in.stats.NNotYoungMade.Add(1)
	}
}

// waitForReadComplete blocks an unlatched getter until a concurrent read
// I/O finishes (invariant: READING implies the I/O slot holds the latch
// exclusively, so latched getters wait on the latch instead).
func (in *Instance) waitForReadComplete(b *pagemanager.Block) {
	for {
		b.Mutex.Lock()
		reading := b.IOState() == pagemanager.IORead
		b.Mutex.Unlock()
		if !reading {
			return
		}
		runtime.Gosched()
	}
}

// readPage is the miss path: allocate a descriptor, install it as
// I/O-in-progress, fill it through the collaborator, validate, and hand it
// over with the requested latch. retry=true means another thread won the
// race and the caller should re-run the hit path.
func (in *Instance) readPage(id pagemanager.PageID, latch LatchMode) (*pagemanager.Block, error, bool) {
	b, err := in.allocBlock()
	if err != nil {
		return nil, err, false
	}
	fold := id.Fold()
	stripe := in.hash.Stripe(fold)
	stripe.XLock()
	in.mutex.Lock()
	if existing := in.hash.Lookup(id); existing != pagemanager.NilIdx {
		if !in.blocks[existing].Sentinel {
			b.SetState(pagemanager.StateFree)
			in.freePush(b.Index)
			in.mutex.Unlock()
			stripe.XUnlock()
			return nil, nil, true
		}
		in.inheritWatch(existing, b)
	}
	b.ID = id
	b.SetState(pagemanager.StateFilePage)
	b.SetIOState(pagemanager.IORead)
	b.Fix()
	b.Latch.XLock()
	in.hash.Insert(id, b.Index)
	in.lruAdd(b.Index, true)
	in.mutex.Unlock()
	stripe.XUnlock()

	err = <-in.io.AsyncRead(id, b.Frame)
	if err == nil {
		slot := in.slots.Acquire()
		if derr := in.enc.DecryptAfterRead(id, b.Frame, slot.CryptBuf); derr != nil {
			err = fmt.Errorf("%w: %v", ErrDecryptionFailed, derr)
		} else if cerr := in.alg.Verify(b.Frame); cerr != nil {
			in.dumpCorrupted(id, b.Frame, cerr)
			err = fmt.Errorf("%w: %v", ErrPageCorrupted, cerr)
		}
		in.slots.Release(slot)
	}
	if err != nil {
		in.abortRead(b)
		return nil, err, false
	}

	b.Mutex.Lock()
	b.SetIOState(pagemanager.IONone)
	b.Mutex.Unlock()
	b.SetAccessed(time.Now().UnixNano())
	in.stats.NPagesRead.Add(1)

	switch latch {
	case LatchShared:
		b.Latch.Downgrade()
	case LatchNone:
		b.Latch.XUnlock()
	}
	return b, nil, false
}

// abortRead unwinds a failed miss: the descriptor leaves the hash and the
// LRU, stray waiters drain off, and the block returns to the free list
// before the error is surfaced (no intermediate state outlives the call).
func (in *Instance) abortRead(b *pagemanager.Block) {
	id := b.ID
	stripe := in.hash.Stripe(id.Fold())
	stripe.XLock()
	in.mutex.Lock()
	in.hash.Remove(id, b.Index)
	in.lruRemove(b.Index)
	b.Mutex.Lock()
	// The identity must be gone before the I/O state clears: unlatched
	// getters synchronize on the block mutex and re-check the identity, so
	// this ordering keeps them from accepting the failed frame.
	b.ID = pagemanager.PageID{}
	b.SetIOState(pagemanager.IONone)
	b.SetState(pagemanager.StateRemoveHash)
	b.Mutex.Unlock()
	in.mutex.Unlock()
	stripe.XUnlock()

	b.BumpModifyClock()
	b.Latch.XUnlock()
	b.Unfix()
	// Threads that pinned the block while the read was in flight notice
	// the identity change once they get the latch and unpin.
	for b.FixCount() > 0 {
		runtime.Gosched()
	}
	in.mutex.Lock()
	b.ResetAccessed()
	b.SetState(pagemanager.StateFree)
	in.freePush(b.Index)
	in.mutex.Unlock()
}

// inheritWatch removes an armed sentinel and moves its watchers' pins onto
// the incoming real page. Caller holds the stripe exclusively and the pool
// mutex.
func (in *Instance) inheritWatch(sentinelIdx int32, b *pagemanager.Block) {
	s := &in.blocks[sentinelIdx]
	in.hash.Remove(s.ID, sentinelIdx)
	n := s.DrainFixes()
	s.ID = pagemanager.PageID{}
	b.TransferFixes(n)
}

// allocBlock returns a descriptor in READY_FOR_USE: from the free list if
// possible, otherwise by evicting from the LRU tail, flushing a single page
// when only dirty candidates remain.
func (in *Instance) allocBlock() (*pagemanager.Block, error) {
	for attempt := 0; ; attempt++ {
		in.mutex.Lock()
		if idx := in.freePop(); idx != pagemanager.NilIdx {
			b := &in.blocks[idx]
			b.SetState(pagemanager.StateReadyForUse)
			in.mutex.Unlock()
			return b, nil
		}
		freed := false
		if in.tryLRUScan.Load() {
			freed = in.lruScanForVictim()
		} else {
			in.mutex.Unlock()
		}
		if freed {
			continue
		}
		if attempt >= maxAllocRetries {
			return nil, ErrNoFreeBlock
		}
		in.FlushBatch(FlushSingle, 1, 0)
		time.Sleep(2 * time.Millisecond)
	}
}

func (in *Instance) dumpCorrupted(id pagemanager.PageID, frame []byte, cause error) {
	in.logger.Error("corrupted page read",
		zap.String(logger.FieldPage, id.String()),
		zap.Uint64("stored_lsn", checksum.StoredLSN(frame)),
		zap.String("checksum_algorithm", in.alg.String()),
		zap.Error(cause),
	)
}
