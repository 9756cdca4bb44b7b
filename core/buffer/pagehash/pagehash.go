// Package pagehash maps page identities to block indices. Buckets chain
// intrusively through Block.HashNext; locking is striped: each stripe guards
// every bucket whose index is congruent to it modulo the stripe count, so
// lookups on buckets of different stripes never contend. Insertion and removal
// require the stripe exclusively plus the owning pool mutex; the package
// only checks the stripe side.
package pagehash

import (
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
	"github.com/ksharma-417/yureidb/core/syncarr"
	"github.com/ksharma-417/yureidb/core/synclatch"
)

// DefaultStripes is the default stripe count.
const DefaultStripes = 1024

// Table is one pool instance's page hash.
type Table struct {
	buckets []int32
	mask    uint64
	stripes []*synclatch.RWLock
	blocks  []pagemanager.Block
}

// New sizes the bucket array to the first power of two above capacity and
// creates the stripe locks. blocks is the instance's descriptor array; the
// table shares it to walk the intrusive chains.
func New(reg *syncarr.Registry, capacity, stripes int, blocks []pagemanager.Block, name string) *Table {
	n := 1
	for n <= capacity {
		n <<= 1
	}
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	if stripes > n {
		stripes = n
	}
	t := &Table{
		buckets: make([]int32, n),
		mask:    uint64(n - 1),
		stripes: make([]*synclatch.RWLock, stripes),
		blocks:  blocks,
	}
	for i := range t.buckets {
		t.buckets[i] = pagemanager.NilIdx
	}
	for i := range t.stripes {
		t.stripes[i] = synclatch.NewRWLock(reg, name)
	}
	return t
}

func (t *Table) bucket(fold uint64) int {
	return int(fold & t.mask)
}

// Stripe returns the lock guarding the bucket for fold.
func (t *Table) Stripe(fold uint64) *synclatch.RWLock {
	return t.stripes[t.bucket(fold)%len(t.stripes)]
}

// Lookup walks the bucket chain for id and returns the block index, or
// NilIdx. The caller holds the stripe in at least shared mode.
func (t *Table) Lookup(id pagemanager.PageID) int32 {
	for idx := t.buckets[t.bucket(id.Fold())]; idx != pagemanager.NilIdx; idx = t.blocks[idx].HashNext {
		if t.blocks[idx].ID == id {
			return idx
		}
	}
	return pagemanager.NilIdx
}

// Insert links a block at the head of its bucket chain. The caller holds
// the stripe exclusively and the pool mutex, and guarantees id is absent.
func (t *Table) Insert(id pagemanager.PageID, idx int32) {
	b := t.bucket(id.Fold())
	t.blocks[idx].HashNext = t.buckets[b]
	t.buckets[b] = idx
}

// Remove unlinks a block from its bucket chain. The caller holds the
// stripe exclusively and the pool mutex.
func (t *Table) Remove(id pagemanager.PageID, idx int32) {
	b := t.bucket(id.Fold())
	cur := t.buckets[b]
	if cur == idx {
		t.buckets[b] = t.blocks[idx].HashNext
		t.blocks[idx].HashNext = pagemanager.NilIdx
		return
	}
	for cur != pagemanager.NilIdx {
		next := t.blocks[cur].HashNext
		if next == idx {
			t.blocks[cur].HashNext = t.blocks[idx].HashNext
			t.blocks[idx].HashNext = pagemanager.NilIdx
			return
		}
		cur = next
	}
}

// Replace rewrites one chain link in place, preserving the chain position.
// Used by compressed-page relocation, where the descriptor moves but the
// identity does not. The caller holds the stripe exclusively and the pool
// mutex.
func (t *Table) Replace(id pagemanager.PageID, from, to int32) {
	b := t.bucket(id.Fold())
	t.blocks[to].HashNext = t.blocks[from].HashNext
	t.blocks[from].HashNext = pagemanager.NilIdx
	if t.buckets[b] == from {
		t.buckets[b] = to
		return
	}
	for cur := t.buckets[b]; cur != pagemanager.NilIdx; cur = t.blocks[cur].HashNext {
		if t.blocks[cur].HashNext == from {
			t.blocks[cur].HashNext = to
			return
		}
	}
}

// Len returns the bucket count. Diagnostic use.
func (t *Table) Len() int {
	return len(t.buckets)
}

// Count walks every chain and returns the number of entries. Used by the
// pool's invariant validation; the caller quiesces the table first.
func (t *Table) Count() int {
	n := 0
	for _, head := range t.buckets {
		for idx := head; idx != pagemanager.NilIdx; idx = t.blocks[idx].HashNext {
			n++
		}
	}
	return n
}
