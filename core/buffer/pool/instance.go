package pool

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/checksum"
	"github.com/ksharma-417/yureidb/core/buffer/crypt"
	"github.com/ksharma-417/yureidb/core/buffer/flushio"
	"github.com/ksharma-417/yureidb/core/buffer/pagehash"
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
	"github.com/ksharma-417/yureidb/core/redo"
	"github.com/ksharma-417/yureidb/core/syncarr"
	"github.com/ksharma-417/yureidb/core/synclatch"
	"github.com/ksharma-417/yureidb/core/syncprim"
	"github.com/ksharma-417/yureidb/pkg/logger"
)

// chunkPages bounds one contiguous frame allocation; large pools are built
// from several chunks so that huge single allocations are avoided. The
// value is an allocator hint only.
const chunkPages = 4096

// chunk is one contiguous slab of frames.
type chunk struct {
	mem    []byte
	first  int32
	nPages int
}

// Instance is one buffer pool shard. A page identity hashes to exactly one
// instance and never migrates.
//
// Lock order within an instance: page-hash stripe, then the pool mutex,
// then a block mutex, then the flush-list mutex. The wait-array internals
// rank below all of them.
type Instance struct {
	id     int
	cfg    Config
	logger *zap.Logger
	reg    *syncarr.Registry

	mutex          *synclatch.Mutex
	flushListMutex *synclatch.Mutex

	chunks  []chunk
	blocks  []pagemanager.Block
	nFrames int

	hash *pagehash.Table

	freeHead int32
	freeLen  int

	lruHead, lruTail, lruOld int32
	lruLen, lruOldLen        int

	flushHead, flushTail int32
	flushLen             int

	unzipHead, unzipTail int32
	unzipLen             int

	// One hazard pointer per concurrent list iterator: the flush-list
	// batch, the LRU-tail flush batch, the single-page flush, and the
	// eviction scan. Removers adjust every pointer of the affected list.
	flushHp   hazardPointer
	lruHp     hazardPointer
	singleItr hazardPointer
	lruItr    hazardPointer

	// flushRBT is non-nil only between BeginRecovery and EndRecovery.
	flushRBT *flushRBT

	freedPageClock atomic.Uint64
	tryLRUScan     atomic.Bool

	noFlush  [nFlushKinds]*syncprim.Event
	flushing [nFlushKinds]bool

	stats Stats

	io    flushio.Manager
	lsn   redo.LSNSource
	alg   checksum.Algorithm
	enc   crypt.Encryptor
	slots *crypt.SlotPool
}

func newInstance(id int, cfg Config, deps engineDeps) *Instance {
	nPages := cfg.pagesPerInstance()
	in := &Instance{
		id:       id,
		cfg:      cfg,
		logger:   logger.ForInstance(deps.logger, id),
		reg:      deps.reg,
		nFrames:  nPages,
		freeHead: pagemanager.NilIdx,
		lruHead:  pagemanager.NilIdx,
		lruTail:  pagemanager.NilIdx,
		lruOld:   pagemanager.NilIdx,
		io:       deps.io,
		lsn:      deps.lsn,
		alg:      deps.alg,
		enc:      deps.enc,
		slots:    crypt.NewSlotPool(cfg.ScratchSlots, cfg.PageSize),
	}
	in.flushHead, in.flushTail = pagemanager.NilIdx, pagemanager.NilIdx
	in.unzipHead, in.unzipTail = pagemanager.NilIdx, pagemanager.NilIdx

	in.mutex = synclatch.NewMutex(deps.reg, fmt.Sprintf("buf.pool.%d.mutex", id))
	in.flushListMutex = synclatch.NewMutex(deps.reg, fmt.Sprintf("buf.pool.%d.flush_list", id))

	in.blocks = make([]pagemanager.Block, nPages+cfg.WatchSlots)

	// Frame chunks.
	remaining := nPages
	first := int32(0)
	for remaining > 0 {
		n := remaining
		if n > chunkPages {
			n = chunkPages
		}
		c := chunk{
			mem:    make([]byte, n*cfg.PageSize),
			first:  first,
			nPages: n,
		}
		for i := 0; i < n; i++ {
			idx := first + int32(i)
			b := &in.blocks[idx]
			b.Init(idx)
			b.Frame = c.mem[i*cfg.PageSize : (i+1)*cfg.PageSize : (i+1)*cfg.PageSize]
			b.Latch = synclatch.NewRWLock(deps.reg, fmt.Sprintf("buf.block.%d.%d", id, idx))
			b.Mutex = synclatch.NewMutex(deps.reg, fmt.Sprintf("buf.block.%d.%d.mutex", id, idx))
		}
		in.chunks = append(in.chunks, c)
		first += int32(n)
		remaining -= n
	}

	// Watch sentinels: descriptors with no frame, permanently in the
	// POOL_WATCH state.
	for i := 0; i < cfg.WatchSlots; i++ {
		idx := int32(nPages + i)
		b := &in.blocks[idx]
		b.Init(idx)
		b.ForceState(pagemanager.StatePoolWatch)
		b.Sentinel = true
		b.Mutex = synclatch.NewMutex(deps.reg, fmt.Sprintf("buf.watch.%d.%d.mutex", id, idx))
	}

	in.hash = pagehash.New(deps.reg, nPages, cfg.PageHashStripes, in.blocks, fmt.Sprintf("buf.pool.%d.page_hash", id))

	// All frame blocks start free.
	for i := nPages - 1; i >= 0; i-- {
		in.freePush(int32(i))
	}

	in.flushHp.adjust = func(removed int32) int32 { return in.blocks[removed].FlushPrev }
	in.flushHp.clear()
	lruAdjust := func(removed int32) int32 { return in.blocks[removed].LRUPrev }
	for _, hp := range []*hazardPointer{&in.lruHp, &in.singleItr, &in.lruItr} {
		hp.adjust = lruAdjust
		hp.clear()
	}

	for k := range in.noFlush {
		in.noFlush[k] = syncprim.NewEvent()
	}
	in.tryLRUScan.Store(true)
	return in
}

// Block returns the descriptor at idx. Diagnostic and test use.
func (in *Instance) Block(idx int32) *pagemanager.Block {
	return &in.blocks[idx]
}

// Stats returns a snapshot of the instance counters and list lengths.
func (in *Instance) Stats() StatsSnapshot {
	s := in.stats.snapshot()
	in.mutex.Lock()
	s.FreeLen = in.freeLen
	s.LRULen = in.lruLen
	s.LRUOldLen = in.lruOldLen
	s.UnzipLen = in.unzipLen
	in.mutex.Unlock()
	in.flushListMutex.Lock()
	s.FlushLen = in.flushLen
	in.flushListMutex.Unlock()
	return s
}

// OldestModification returns the smallest oldest-modification LSN in the
// instance, 0 when the flush list is empty. The flush list is ordered, so
// it is the tail entry.
func (in *Instance) OldestModification() pagemanager.LSN {
	in.flushListMutex.Lock()
	defer in.flushListMutex.Unlock()
	if in.flushTail == pagemanager.NilIdx {
		return 0
	}
	return in.blocks[in.flushTail].OldestModification()
}

// beginRecovery installs the ordered-insert mirror.
func (in *Instance) beginRecovery() {
	in.flushListMutex.Lock()
	defer in.flushListMutex.Unlock()
	t := newFlushRBT()
	for idx := in.flushHead; idx != pagemanager.NilIdx; idx = in.blocks[idx].FlushNext {
		t.insert(uint64(in.blocks[idx].OldestModification()), idx)
	}
	in.flushRBT = t
}

// endRecovery discards the mirror.
func (in *Instance) endRecovery() {
	in.flushListMutex.Lock()
	in.flushRBT = nil
	in.flushListMutex.Unlock()
}
