package pool

import (
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// Intrusive list mechanics. Link direction convention for the doubly
// linked lists: Prev points toward the head (youngest / newest), Next
// toward the tail (oldest). The free list is singly linked.
//
// Every function here requires the pool mutex, except the flush-list
// functions, which require the flush-list mutex.

// lruOldMinLen is the LRU length below which the list is not split into
// young and old segments.
const lruOldMinLen = 80

// lruOldTolerance avoids boundary thrashing when adjusting the old-segment
// length toward its ratio target.
const lruOldTolerance = 20

// --- free list ---

func (in *Instance) freePush(idx int32) {
	b := &in.blocks[idx]
	b.FreeNext = in.freeHead
	in.freeHead = idx
	in.freeLen++
	b.InFreeList = true
}

func (in *Instance) freePop() int32 {
	idx := in.freeHead
	if idx == pagemanager.NilIdx {
		return pagemanager.NilIdx
	}
	b := &in.blocks[idx]
	in.freeHead = b.FreeNext
	b.FreeNext = pagemanager.NilIdx
	in.freeLen--
	b.InFreeList = false
	return idx
}

// --- LRU list ---

func (in *Instance) lruInsertHead(idx int32) {
	b := &in.blocks[idx]
	b.LRUPrev = pagemanager.NilIdx
	b.LRUNext = in.lruHead
	if in.lruHead != pagemanager.NilIdx {
		in.blocks[in.lruHead].LRUPrev = idx
	}
	in.lruHead = idx
	if in.lruTail == pagemanager.NilIdx {
		in.lruTail = idx
	}
	in.lruLen++
	b.InLRUList = true
}

func (in *Instance) lruInsertAfter(after, idx int32) {
	b := &in.blocks[idx]
	a := &in.blocks[after]
	b.LRUPrev = after
	b.LRUNext = a.LRUNext
	if a.LRUNext != pagemanager.NilIdx {
		in.blocks[a.LRUNext].LRUPrev = idx
	} else {
		in.lruTail = idx
	}
	a.LRUNext = idx
	in.lruLen++
	b.InLRUList = true
}

func (in *Instance) lruUnlink(idx int32) {
	b := &in.blocks[idx]
	if b.LRUPrev != pagemanager.NilIdx {
		in.blocks[b.LRUPrev].LRUNext = b.LRUNext
	} else {
		in.lruHead = b.LRUNext
	}
	if b.LRUNext != pagemanager.NilIdx {
		in.blocks[b.LRUNext].LRUPrev = b.LRUPrev
	} else {
		in.lruTail = b.LRUPrev
	}
	b.LRUPrev, b.LRUNext = pagemanager.NilIdx, pagemanager.NilIdx
	in.lruLen--
	b.InLRUList = false
}

// lruOldInit splits the LRU the moment it reaches the minimum length:
// every block becomes old and the boundary starts at the head, then the
// adjustment walks it to the ratio target.
func (in *Instance) lruOldInit() {
	for idx := in.lruHead; idx != pagemanager.NilIdx; idx = in.blocks[idx].LRUNext {
		in.blocks[idx].SetOld(true)
	}
	in.lruOld = in.lruHead
	in.lruOldLen = in.lruLen
	in.lruOldAdjust()
}

// lruOldDissolve removes the segment split when the list shrinks below the
// minimum length.
func (in *Instance) lruOldDissolve() {
	for idx := in.lruHead; idx != pagemanager.NilIdx; idx = in.blocks[idx].LRUNext {
		in.blocks[idx].SetOld(false)
	}
	in.lruOld = pagemanager.NilIdx
	in.lruOldLen = 0
}

// lruOldAdjust walks the old-segment boundary until the old length is
// within tolerance of the configured ratio.
func (in *Instance) lruOldAdjust() {
	target := in.lruLen * in.cfg.LRUOldRatioPct / 100
	for in.lruOldLen > target+lruOldTolerance && in.lruOldLen > 1 {
		// Shrink: the boundary block turns young, boundary moves tailward.
		old := in.lruOld
		in.blocks[old].SetOld(false)
		in.lruOld = in.blocks[old].LRUNext
		in.lruOldLen--
	}
	for in.lruOldLen < target-lruOldTolerance && in.lruOld != pagemanager.NilIdx {
		// Grow: the block ahead of the boundary turns old.
		prev := in.blocks[in.lruOld].LRUPrev
		if prev == pagemanager.NilIdx {
			break
		}
		in.blocks[prev].SetOld(true)
		in.lruOld = prev
		in.lruOldLen++
	}
}

// lruAdd inserts a block into the LRU. old selects midpoint insertion (the
// default for pages read from disk) versus head insertion (pages created in
// the pool).
func (in *Instance) lruAdd(idx int32, old bool) {
	b := &in.blocks[idx]
	if in.lruLen < lruOldMinLen {
		in.lruInsertHead(idx)
		b.SetOld(false)
		if in.lruLen == lruOldMinLen {
			in.lruOldInit()
		}
		return
	}
	if old && in.lruOld != pagemanager.NilIdx {
		in.lruInsertAfter(in.lruOld, idx)
		b.SetOld(true)
		in.lruOldLen++
	} else {
		in.lruInsertHead(idx)
		b.SetOld(false)
	}
	in.lruOldAdjust()
}

// lruHpAdjustAll moves every LRU iterator off a node about to be removed.
func (in *Instance) lruHpAdjustAll(idx int32) {
	in.lruHp.adjustFor(idx)
	in.singleItr.adjustFor(idx)
	in.lruItr.adjustFor(idx)
}

// lruRemove takes a block out of the LRU, maintaining the boundary and the
// scan hazard pointers.
func (in *Instance) lruRemove(idx int32) {
	in.lruHpAdjustAll(idx)
	b := &in.blocks[idx]
	if in.lruOld == idx {
		// Prefer moving the boundary toward the head so the old segment
		// keeps its length; the incoming boundary block turns old.
		if prev := b.LRUPrev; prev != pagemanager.NilIdx {
			in.blocks[prev].SetOld(true)
			in.lruOld = prev
		} else {
			in.lruOld = b.LRUNext
			in.lruOldLen--
		}
	} else if b.IsOld() {
		in.lruOldLen--
	}
	in.lruUnlink(idx)
	b.SetOld(false)
	if in.lruOld != pagemanager.NilIdx {
		if in.lruLen < lruOldMinLen {
			in.lruOldDissolve()
		} else {
			in.lruOldAdjust()
		}
	}
	if b.ZipFrame != nil {
		in.unzipRemoveIfLinked(idx)
	}
}

// lruMakeYoung moves a block to the LRU head and snapshots the eviction
// clock on it.
func (in *Instance) lruMakeYoung(idx int32) {
	b := &in.blocks[idx]
	if in.lruOld == idx {
		if prev := b.LRUPrev; prev != pagemanager.NilIdx {
			in.blocks[prev].SetOld(true)
			in.lruOld = prev
		} else {
			in.lruOld = b.LRUNext
			in.lruOldLen--
		}
	} else if b.IsOld() {
		in.lruOldLen--
	}
	in.lruHpAdjustAll(idx)
	in.lruUnlink(idx)
	b.SetOld(false)
	in.lruInsertHead(idx)
	b.FreedPageClock = in.freedPageClock.Load()
	if in.lruOld != pagemanager.NilIdx {
		in.lruOldAdjust()
	}
}

// --- flush list (flush-list mutex) ---

// flushPrepend adds a newly dirtied block at the head. Outside recovery,
// first-dirtying LSNs are assigned in nondecreasing order, so prepending
// preserves the head-to-tail descending order.
func (in *Instance) flushPrepend(idx int32) {
	b := &in.blocks[idx]
	b.FlushPrev = pagemanager.NilIdx
	b.FlushNext = in.flushHead
	if in.flushHead != pagemanager.NilIdx {
		in.blocks[in.flushHead].FlushPrev = idx
	}
	in.flushHead = idx
	if in.flushTail == pagemanager.NilIdx {
		in.flushTail = idx
	}
	in.flushLen++
	b.InFlushList = true
	if in.flushRBT != nil {
		in.flushRBT.insert(uint64(b.OldestModification()), idx)
	}
}

// flushInsertOrdered places a block by walking from the head until the
// ordering holds. Outside recovery, racing first-dirtyings land within a
// few nodes of the head, so the walk is short; recovery uses the tree
// variant instead.
func (in *Instance) flushInsertOrdered(idx int32) {
	b := &in.blocks[idx]
	lsn := b.OldestModification()
	prev := pagemanager.NilIdx
	cur := in.flushHead
	for cur != pagemanager.NilIdx && in.blocks[cur].OldestModification() > lsn {
		prev = cur
		cur = in.blocks[cur].FlushNext
	}
	b.FlushPrev = prev
	b.FlushNext = cur
	if prev != pagemanager.NilIdx {
		in.blocks[prev].FlushNext = idx
	} else {
		in.flushHead = idx
	}
	if cur != pagemanager.NilIdx {
		in.blocks[cur].FlushPrev = idx
	} else {
		in.flushTail = idx
	}
	in.flushLen++
	b.InFlushList = true
}

// flushInsertSorted places a block by its oldest-modification LSN, used
// during recovery when first-dirtying is replayed out of order. The
// red-black tree mirror makes the position lookup logarithmic.
func (in *Instance) flushInsertSorted(idx int32) {
	b := &in.blocks[idx]
	lsn := uint64(b.OldestModification())
	succ := in.flushRBT.successor(lsn, idx)
	in.flushRBT.insert(lsn, idx)
	if succ == pagemanager.NilIdx {
		// Largest LSN in the list: new head.
		b.FlushPrev = pagemanager.NilIdx
		b.FlushNext = in.flushHead
		if in.flushHead != pagemanager.NilIdx {
			in.blocks[in.flushHead].FlushPrev = idx
		}
		in.flushHead = idx
		if in.flushTail == pagemanager.NilIdx {
			in.flushTail = idx
		}
	} else {
		// Insert tailward of the closest larger entry.
		s := &in.blocks[succ]
		b.FlushPrev = succ
		b.FlushNext = s.FlushNext
		if s.FlushNext != pagemanager.NilIdx {
			in.blocks[s.FlushNext].FlushPrev = idx
		} else {
			in.flushTail = idx
		}
		s.FlushNext = idx
	}
	in.flushLen++
	b.InFlushList = true
}

// flushRemove unlinks a flushed (or discarded) block, maintaining the
// batch hazard pointer and the recovery tree.
func (in *Instance) flushRemove(idx int32) {
	in.flushHp.adjustFor(idx)
	b := &in.blocks[idx]
	if in.flushRBT != nil {
		in.flushRBT.delete(uint64(b.OldestModification()), idx)
	}
	if b.FlushPrev != pagemanager.NilIdx {
		in.blocks[b.FlushPrev].FlushNext = b.FlushNext
	} else {
		in.flushHead = b.FlushNext
	}
	if b.FlushNext != pagemanager.NilIdx {
		in.blocks[b.FlushNext].FlushPrev = b.FlushPrev
	} else {
		in.flushTail = b.FlushPrev
	}
	b.FlushPrev, b.FlushNext = pagemanager.NilIdx, pagemanager.NilIdx
	in.flushLen--
	b.InFlushList = false
}

// --- unzip LRU (pool mutex) ---

func (in *Instance) unzipAdd(idx int32) {
	b := &in.blocks[idx]
	b.UnzipPrev = pagemanager.NilIdx
	b.UnzipNext = in.unzipHead
	if in.unzipHead != pagemanager.NilIdx {
		in.blocks[in.unzipHead].UnzipPrev = idx
	}
	in.unzipHead = idx
	if in.unzipTail == pagemanager.NilIdx {
		in.unzipTail = idx
	}
	in.unzipLen++
	b.InUnzipList = true
}

func (in *Instance) unzipRemoveIfLinked(idx int32) {
	b := &in.blocks[idx]
	if !b.InUnzipList {
		return
	}
	if b.UnzipPrev != pagemanager.NilIdx {
		in.blocks[b.UnzipPrev].UnzipNext = b.UnzipNext
	} else {
		in.unzipHead = b.UnzipNext
	}
	if b.UnzipNext != pagemanager.NilIdx {
		in.blocks[b.UnzipNext].UnzipPrev = b.UnzipPrev
	} else {
		in.unzipTail = b.UnzipPrev
	}
	b.UnzipPrev, b.UnzipNext = pagemanager.NilIdx, pagemanager.NilIdx
	in.unzipLen--
	b.InUnzipList = false
}
