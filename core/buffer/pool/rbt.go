package pool

import "github.com/ksharma-417/yureidb/core/buffer/pagemanager"

// flushRBT mirrors the flush list during recovery, keyed by
// (oldest modification LSN, block index), so that the out-of-order
// first-dirtyings replay produces still find their list position in
// logarithmic time. It is a left-leaning red-black tree and is discarded
// when recovery ends.
type flushRBT struct {
	root *rbtNode
	size int
}

type rbtNode struct {
	lsn         uint64
	idx         int32
	red         bool
	left, right *rbtNode
}

func newFlushRBT() *flushRBT {
	return &flushRBT{}
}

func rbtLess(aLSN uint64, aIdx int32, bLSN uint64, bIdx int32) bool {
	if aLSN != bLSN {
		return aLSN < bLSN
	}
	return aIdx < bIdx
}

func isRed(n *rbtNode) bool {
	return n != nil && n.red
}

func rotateLeft(n *rbtNode) *rbtNode {
	x := n.right
	n.right = x.left
	x.left = n
	x.red = n.red
	n.red = true
	return x
}

func rotateRight(n *rbtNode) *rbtNode {
	x := n.left
	n.left = x.right
	x.right = n
	x.red = n.red
	n.red = true
	return x
}

func flipColors(n *rbtNode) {
	n.red = !n.red
	n.left.red = !n.left.red
	n.right.red = !n.right.red
}

func fixUp(n *rbtNode) *rbtNode {
	if isRed(n.right) && !isRed(n.left) {
		n = rotateLeft(n)
	}
	if isRed(n.left) && isRed(n.left.left) {
		n = rotateRight(n)
	}
	if isRed(n.left) && isRed(n.right) {
		flipColors(n)
	}
	return n
}

func (t *flushRBT) insert(lsn uint64, idx int32) {
	t.root = t.insertNode(t.root, lsn, idx)
	t.root.red = false
	t.size++
}

func (t *flushRBT) insertNode(n *rbtNode, lsn uint64, idx int32) *rbtNode {
	if n == nil {
		return &rbtNode{lsn: lsn, idx: idx, red: true}
	}
	if rbtLess(lsn, idx, n.lsn, n.idx) {
		n.left = t.insertNode(n.left, lsn, idx)
	} else {
		n.right = t.insertNode(n.right, lsn, idx)
	}
	return fixUp(n)
}

// successor returns the block index of the smallest key strictly greater
// than (lsn, idx), or NilIdx. In flush-list terms: the entry immediately
// headward of where (lsn, idx) belongs.
func (t *flushRBT) successor(lsn uint64, idx int32) int32 {
	succ := pagemanager.NilIdx
	n := t.root
	for n != nil {
		if rbtLess(lsn, idx, n.lsn, n.idx) {
			succ = n.idx
			n = n.left
		} else {
			n = n.right
		}
	}
	return succ
}

func moveRedLeft(n *rbtNode) *rbtNode {
	flipColors(n)
	if isRed(n.right.left) {
		n.right = rotateRight(n.right)
		n = rotateLeft(n)
		flipColors(n)
	}
	return n
}

func moveRedRight(n *rbtNode) *rbtNode {
	flipColors(n)
	if isRed(n.left.left) {
		n = rotateRight(n)
		flipColors(n)
	}
	return n
}

func deleteMin(n *rbtNode) *rbtNode {
	if n.left == nil {
		return nil
	}
	if !isRed(n.left) && !isRed(n.left.left) {
		n = moveRedLeft(n)
	}
	n.left = deleteMin(n.left)
	return fixUp(n)
}

func minNode(n *rbtNode) *rbtNode {
	for n.left != nil {
		n = n.left
	}
	return n
}

// delete removes the exact key; absent keys are a no-op.
func (t *flushRBT) delete(lsn uint64, idx int32) {
	if !t.contains(lsn, idx) {
		return
	}
	t.root = t.deleteNode(t.root, lsn, idx)
	if t.root != nil {
		t.root.red = false
	}
	t.size--
}

func (t *flushRBT) contains(lsn uint64, idx int32) bool {
	n := t.root
	for n != nil {
		switch {
		case rbtLess(lsn, idx, n.lsn, n.idx):
			n = n.left
		case rbtLess(n.lsn, n.idx, lsn, idx):
			n = n.right
		default:
			return true
		}
	}
	return false
}

func (t *flushRBT) deleteNode(n *rbtNode, lsn uint64, idx int32) *rbtNode {
	if rbtLess(lsn, idx, n.lsn, n.idx) {
		if !isRed(n.left) && !isRed(n.left.left) {
			n = moveRedLeft(n)
		}
		n.left = t.deleteNode(n.left, lsn, idx)
	} else {
		if isRed(n.left) {
			n = rotateRight(n)
		}
		if n.lsn == lsn && n.idx == idx && n.right == nil {
			return nil
		}
		if !isRed(n.right) && !isRed(n.right.left) {
			n = moveRedRight(n)
		}
		if n.lsn == lsn && n.idx == idx {
			m := minNode(n.right)
			n.lsn, n.idx = m.lsn, m.idx
			n.right = deleteMin(n.right)
		} else {
			n.right = t.deleteNode(n.right, lsn, idx)
		}
	}
	return fixUp(n)
}
