package pool

import (
	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
	"github.com/ksharma-417/yureidb/pkg/logger"
)

// FlushKind selects a flush batch type. Each kind has its own "no batch in
// progress" event so waiters of one kind are not woken by another.
type FlushKind int

const (
	// FlushLRU writes dirty pages near the LRU tail so the eviction scan
	// finds clean victims.
	FlushLRU FlushKind = iota
	// FlushList drains the flush list from its oldest end, driven by
	// checkpointing.
	FlushList
	// FlushSingle writes at most one dirty page near the LRU tail for a
	// thread that needs a free block immediately.
	FlushSingle

	nFlushKinds = 3
)

func (k FlushKind) String() string {
	switch k {
	case FlushLRU:
		return "LRU_TAIL"
	case FlushList:
		return "FLUSH_LIST"
	case FlushSingle:
		return "SINGLE_PAGE"
	}
	return "UNKNOWN"
}

// beginBatch claims the batch slot for a kind. Only one batch of each kind
// runs at a time.
func (in *Instance) beginBatch(kind FlushKind) bool {
	in.mutex.Lock()
	defer in.mutex.Unlock()
	if in.flushing[kind] {
		return false
	}
	in.flushing[kind] = true
	in.noFlush[kind].Reset()
	return true
}

func (in *Instance) endBatch(kind FlushKind, flushed int) {
	in.mutex.Lock()
	in.flushing[kind] = false
	in.mutex.Unlock()
	in.noFlush[kind].Set()
	if flushed > 0 {
		in.tryLRUScan.Store(true)
	}
}

// WaitNoFlush blocks until no batch of the given kind is in progress.
func (in *Instance) WaitNoFlush(kind FlushKind) {
	for {
		in.mutex.Lock()
		running := in.flushing[kind]
		in.mutex.Unlock()
		if !running {
			return
		}
		gen := in.noFlush[kind].Reset()
		in.mutex.Lock()
		running = in.flushing[kind]
		in.mutex.Unlock()
		if !running {
			return
		}
		in.noFlush[kind].Wait(gen)
	}
}

// FlushBatch writes up to maxCount dirty pages of the given kind. For
// FlushList, only pages whose oldest modification is at or below lsnLimit
// are written when lsnLimit is nonzero. Returns the number of pages
// written.
func (in *Instance) FlushBatch(kind FlushKind, maxCount int, lsnLimit pagemanager.LSN) int {
	if !in.beginBatch(kind) {
		return 0
	}
	var flushed int
	switch kind {
	case FlushList:
		flushed = in.flushListBatch(maxCount, lsnLimit)
	case FlushLRU, FlushSingle:
		flushed = in.flushLRUTail(kind, maxCount)
	}
	in.endBatch(kind, flushed)
	if flushed > 0 {
		in.logger.Debug("flush batch complete",
			zap.String("kind", kind.String()),
			zap.Int("pages", flushed),
		)
	}
	return flushed
}

// flushListBatch walks the flush list from the tail (oldest first). The
// hazard pointer tracks the next node: a concurrent flusher removing it
// advances the pointer to the next still-present node.
func (in *Instance) flushListBatch(maxCount int, lsnLimit pagemanager.LSN) int {
	flushed := 0
	in.flushListMutex.Lock()
	in.flushHp.set(in.flushTail)
	for flushed < maxCount {
		idx := in.flushHp.get()
		if idx == pagemanager.NilIdx {
			break
		}
		b := &in.blocks[idx]
		oldest := b.OldestModification()
		if lsnLimit != 0 && oldest > lsnLimit {
			break
		}
		in.flushHp.set(b.FlushPrev)
		in.flushListMutex.Unlock()
		if in.writePage(b) {
			flushed++
		}
		in.flushListMutex.Lock()
	}
	in.flushHp.clear()
	in.flushListMutex.Unlock()
	return flushed
}

// flushLRUTail walks the LRU from the tail writing dirty, I/O-idle pages,
// bounded by the scan depth. The LRU batch and the single-page flush each
// iterate through their own hazard pointer so they can run concurrently.
func (in *Instance) flushLRUTail(kind FlushKind, maxCount int) int {
	hp := &in.lruHp
	if kind == FlushSingle {
		hp = &in.singleItr
	}
	flushed := 0
	depth := in.cfg.FlushScanDepth
	in.mutex.Lock()
	hp.set(in.lruTail)
	for i := 0; i < depth && flushed < maxCount; i++ {
		idx := hp.get()
		if idx == pagemanager.NilIdx {
			break
		}
		b := &in.blocks[idx]
		hp.set(b.LRUPrev)
		if !b.IsDirty() {
			continue
		}
		in.mutex.Unlock()
		if in.writePage(b) {
			flushed++
		}
		in.mutex.Lock()
	}
	hp.clear()
	in.mutex.Unlock()
	return flushed
}

// writePage flushes one dirty page: log-ahead sync, checksum stamping,
// encryption hook, synchronous write, then flush-list removal. The shared
// latch excludes mutators for the duration; write I/O state excludes a
// concurrent flush of the same page.
func (in *Instance) writePage(b *pagemanager.Block) bool {
	b.Mutex.Lock()
	if b.OldestModification() == 0 || b.IOState() != pagemanager.IONone {
		b.Mutex.Unlock()
		return false
	}
	b.SetIOState(pagemanager.IOWrite)
	b.Mutex.Unlock()

	// The shared latch freezes the frame; newest is read under it so the
	// log-ahead sync below covers every modification the write will carry.
	b.Latch.SLock()
	newest := b.NewestModification()
	if in.lsn != nil && in.lsn.DurableLSN() < newest {
		if err := in.lsn.Sync(); err != nil {
			in.logger.Error("log sync failed before page write",
				zap.String(logger.FieldPage, b.ID.String()), zap.Error(err))
			b.Latch.SUnlock()
			b.Mutex.Lock()
			b.SetIOState(pagemanager.IONone)
			b.Mutex.Unlock()
			return false
		}
	}
	in.alg.Stamp(b.Frame, uint64(newest))
	slot := in.slots.Acquire()
	out, err := in.enc.EncryptBeforeWrite(b.ID, b.Frame, slot.CryptBuf)
	if err == nil {
		err = in.io.SyncWrite(b.ID, out, newest)
	}
	in.slots.Release(slot)
	b.Latch.SUnlock()

	if err != nil {
		in.logger.Error("page write failed", zap.String(logger.FieldPage, b.ID.String()), zap.Error(err))
		b.Mutex.Lock()
		b.SetIOState(pagemanager.IONone)
		b.Mutex.Unlock()
		return false
	}

	b.Mutex.Lock()
	in.flushListMutex.Lock()
	if b.OldestModification() != 0 {
		in.flushRemove(b.Index)
		b.SetOldestModification(0)
	}
	in.flushListMutex.Unlock()
	b.SetIOState(pagemanager.IONone)
	b.Mutex.Unlock()
	in.stats.NPagesWritten.Add(1)
	return true
}
