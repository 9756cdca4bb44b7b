package pool

import (
	"fmt"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// lruScanForVictim walks the old-segment tail looking for an evictable
// block, up to the configured scan depth. Called with the pool mutex held;
// always returns with it released. Returns whether a block was freed.
//
// Eviction needs the page-hash stripe, which ranks above the pool mutex, so
// the scan publishes its position in the LRU hazard pointer, drops the pool
// mutex, and re-reads the pointer afterwards; concurrent removals advance
// the pointer instead of invalidating the scan.
func (in *Instance) lruScanForVictim() bool {
	depth := in.cfg.FlushScanDepth
	cur := in.lruTail
	for i := 0; cur != pagemanager.NilIdx && i < depth; i++ {
		b := &in.blocks[cur]
		next := b.LRUPrev

		if b.Mutex.TryLock() {
			evictable := b.State() == pagemanager.StateFilePage && b.Evictable()
			b.Mutex.Unlock()
			if evictable {
				id, idx := b.ID, cur
				in.lruItr.set(next)
				in.mutex.Unlock()
				if in.tryEvictPage(id, idx) {
					return true
				}
				in.mutex.Lock()
				cur = in.lruItr.get()
				continue
			}
		}
		cur = next
	}
	// Exhausted: stop burning scans until a flush batch frees something.
	in.tryLRUScan.Store(false)
	in.mutex.Unlock()
	return false
}

// tryEvictPage evicts one clean, unpinned, I/O-idle page, revalidating
// everything under the stripe lock and the pool mutex.
func (in *Instance) tryEvictPage(id pagemanager.PageID, idx int32) bool {
	stripe := in.hash.Stripe(id.Fold())
	stripe.XLock()
	in.mutex.Lock()
	if in.hash.Lookup(id) != idx {
		in.mutex.Unlock()
		stripe.XUnlock()
		return false
	}
	b := &in.blocks[idx]
	b.Mutex.Lock()
	if b.State() != pagemanager.StateFilePage || !b.Evictable() {
		b.Mutex.Unlock()
		in.mutex.Unlock()
		stripe.XUnlock()
		return false
	}
	in.hash.Remove(id, idx)
	b.SetState(pagemanager.StateRemoveHash)
	in.lruRemove(idx)
	b.BumpModifyClock()
	b.ID = pagemanager.PageID{}
	b.ResetAccessed()
	b.SetState(pagemanager.StateFree)
	in.freePush(idx)
	in.freedPageClock.Add(1)
	in.stats.NPagesEvicted.Add(1)
	b.Mutex.Unlock()
	in.mutex.Unlock()
	stripe.XUnlock()
	return true
}

// AttachCompressedFrame hands a block its compressed image. File pages that
// carry both frames join the unzip LRU, which orders candidates for
// dropping the uncompressed copy under memory pressure.
func (in *Instance) AttachCompressedFrame(b *pagemanager.Block, zip []byte) {
	in.mutex.Lock()
	b.ZipFrame = zip
	if b.InLRUList && b.State() == pagemanager.StateFilePage && !b.InUnzipList {
		in.unzipAdd(b.Index)
	}
	in.mutex.Unlock()
}

// Relocate moves a compressed-only descriptor to another slot, preserving
// every list position and rewriting the hash chain in place. Required by
// the compressed-page buddy allocator when it reassembles blocks. The
// target must be a descriptor already taken off the free list
// (READY_FOR_USE); the source must be unpinned with no
// I/O in flight.
func (in *Instance) Relocate(fromIdx, toIdx int32) error {
	from := &in.blocks[fromIdx]
	to := &in.blocks[toIdx]

	stripe := in.hash.Stripe(from.ID.Fold())
	stripe.XLock()
	in.mutex.Lock()
	defer func() {
		in.mutex.Unlock()
		stripe.XUnlock()
	}()

	from.Mutex.Lock()
	defer from.Mutex.Unlock()

	st := from.State()
	if st != pagemanager.StateZipClean && st != pagemanager.StateZipDirty {
		return fmt.Errorf("page %s: only compressed-only pages relocate, state is %s", from.ID, st)
	}
	if from.FixCount() != 0 || from.IOState() != pagemanager.IONone {
		return fmt.Errorf("page %s: relocation requires an unpinned, I/O-idle page", from.ID)
	}
	if to.State() != pagemanager.StateReadyForUse {
		return fmt.Errorf("relocation target %d is not ready for use", toIdx)
	}

	// Identity and payload move; the frame stays owned by its slot.
	to.ID = from.ID
	to.ZipFrame = from.ZipFrame
	to.ForceState(st)
	to.SetNewestModification(from.NewestModification())
	to.SetOldestModification(from.OldestModification())
	to.SetOld(from.IsOld())
	to.FreedPageClock = from.FreedPageClock

	in.hash.Replace(to.ID, fromIdx, toIdx)
	in.relinkLRU(fromIdx, toIdx)
	if from.InFlushList {
		in.flushListMutex.Lock()
		in.relinkFlush(fromIdx, toIdx)
		in.flushListMutex.Unlock()
	}

	from.BumpModifyClock()
	from.ZipFrame = nil
	from.ID = pagemanager.PageID{}
	from.SetNewestModification(0)
	from.SetOldestModification(0)
	from.ForceState(pagemanager.StateFree)
	from.ResetAccessed()
	in.freePush(fromIdx)
	return nil
}

// relinkLRU splices toIdx into fromIdx's exact LRU position.
func (in *Instance) relinkLRU(fromIdx, toIdx int32) {
	in.lruHpAdjustAll(fromIdx)
	from := &in.blocks[fromIdx]
	to := &in.blocks[toIdx]
	to.LRUPrev, to.LRUNext = from.LRUPrev, from.LRUNext
	if from.LRUPrev != pagemanager.NilIdx {
		in.blocks[from.LRUPrev].LRUNext = toIdx
	} else {
		in.lruHead = toIdx
	}
	if from.LRUNext != pagemanager.NilIdx {
		in.blocks[from.LRUNext].LRUPrev = toIdx
	} else {
		in.lruTail = toIdx
	}
	if in.lruOld == fromIdx {
		in.lruOld = toIdx
	}
	from.LRUPrev, from.LRUNext = pagemanager.NilIdx, pagemanager.NilIdx
	from.InLRUList = false
	to.InLRUList = true
}

// relinkFlush splices toIdx into fromIdx's exact flush-list position.
func (in *Instance) relinkFlush(fromIdx, toIdx int32) {
	in.flushHp.adjustFor(fromIdx)
	from := &in.blocks[fromIdx]
	to := &in.blocks[toIdx]
	if in.flushRBT != nil {
		in.flushRBT.delete(uint64(from.OldestModification()), fromIdx)
		in.flushRBT.insert(uint64(to.OldestModification()), toIdx)
	}
	to.FlushPrev, to.FlushNext = from.FlushPrev, from.FlushNext
	if from.FlushPrev != pagemanager.NilIdx {
		in.blocks[from.FlushPrev].FlushNext = toIdx
	} else {
		in.flushHead = toIdx
	}
	if from.FlushNext != pagemanager.NilIdx {
		in.blocks[from.FlushNext].FlushPrev = toIdx
	} else {
		in.flushTail = toIdx
	}
	from.FlushPrev, from.FlushNext = pagemanager.NilIdx, pagemanager.NilIdx
	from.InFlushList = false
	to.InFlushList = true
}
