package pool

import (
	"fmt"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// Validate checks the instance's structural invariants at a quiescent
// point: list membership and length counters against states, flush-list
// ordering, and hash membership; wait-array cells are not checked. It takes
// the pool and flush-list mutexes but
// assumes no concurrent structural activity; it is meant for tests and the
// debug invariant-check configuration.
func (in *Instance) Validate() error {
	in.mutex.Lock()
	defer in.mutex.Unlock()
	in.flushListMutex.Lock()
	defer in.flushListMutex.Unlock()

	// Free list: every member FREE, every FREE frame block a member.
	freeSeen := make(map[int32]bool)
	n := 0
	for idx := in.freeHead; idx != pagemanager.NilIdx; idx = in.blocks[idx].FreeNext {
		b := &in.blocks[idx]
		if b.State() != pagemanager.StateFree {
			return fmt.Errorf("block %d on free list in state %s", idx, b.State())
		}
		freeSeen[idx] = true
		n++
		if n > len(in.blocks) {
			return fmt.Errorf("free list cycle detected")
		}
	}
	if n != in.freeLen {
		return fmt.Errorf("free list length %d, counter %d", n, in.freeLen)
	}
	for i := 0; i < in.nFrames; i++ {
		b := &in.blocks[i]
		if (b.State() == pagemanager.StateFree) != freeSeen[int32(i)] {
			return fmt.Errorf("block %d state %s, on free list: %v", i, b.State(), freeSeen[int32(i)])
		}
	}

	// LRU list: lengths, old segment contiguity.
	n = 0
	oldN := 0
	seenBoundary := false
	for idx := in.lruHead; idx != pagemanager.NilIdx; idx = in.blocks[idx].LRUNext {
		b := &in.blocks[idx]
		if !b.InLRUList {
			return fmt.Errorf("block %d on LRU without list flag", idx)
		}
		if idx == in.lruOld {
			seenBoundary = true
		}
		if b.IsOld() != seenBoundary && in.lruOld != pagemanager.NilIdx {
			return fmt.Errorf("block %d old flag %v on the wrong side of the boundary", idx, b.IsOld())
		}
		if b.IsOld() {
			oldN++
		}
		n++
		if n > len(in.blocks) {
			return fmt.Errorf("LRU list cycle detected")
		}
	}
	if n != in.lruLen {
		return fmt.Errorf("LRU length %d, counter %d", n, in.lruLen)
	}
	if in.lruOld != pagemanager.NilIdx && oldN != in.lruOldLen {
		return fmt.Errorf("LRU old length %d, counter %d", oldN, in.lruOldLen)
	}

	// Flush list: member iff dirty, ordered non-increasing head to tail.
	n = 0
	var prevLSN pagemanager.LSN
	for idx := in.flushHead; idx != pagemanager.NilIdx; idx = in.blocks[idx].FlushNext {
		b := &in.blocks[idx]
		lsn := b.OldestModification()
		if lsn == 0 {
			return fmt.Errorf("clean block %d on flush list", idx)
		}
		if n > 0 && lsn > prevLSN {
			return fmt.Errorf("flush list out of order: %d after %d", lsn, prevLSN)
		}
		prevLSN = lsn
		n++
		if n > len(in.blocks) {
			return fmt.Errorf("flush list cycle detected")
		}
	}
	if n != in.flushLen {
		return fmt.Errorf("flush list length %d, counter %d", n, in.flushLen)
	}
	for i := range in.blocks {
		b := &in.blocks[i]
		if b.OldestModification() != 0 && !b.InFlushList {
			return fmt.Errorf("dirty block %d not on flush list", i)
		}
	}

	// Page hash: membership matches state.
	inHash := 0
	for i := range in.blocks {
		if in.blocks[i].State().InPageHash() {
			if in.blocks[i].Sentinel && in.blocks[i].FixCount() == 0 {
				continue // unarmed sentinel
			}
			inHash++
		}
	}
	if got := in.hash.Count(); got != inHash {
		return fmt.Errorf("page hash holds %d entries, states imply %d", got, inHash)
	}
	return nil
}
