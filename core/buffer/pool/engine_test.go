package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/checksum"
	"github.com/ksharma-417/yureidb/core/buffer/flushio"
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

const testPageSize = 512

// setupEngine opens a one-instance pool of 128 small pages against an
// in-memory I/O stub. The background flusher interval is pushed out so
// tests control flushing explicitly.
func setupEngine(t *testing.T, mutate func(*Config)) (*Engine, *flushio.MemManager) {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	cfg := Config{
		TotalPoolBytes:    128 * testPageSize,
		InstanceCount:     1,
		PageSize:          testPageSize,
		LRUOldThresholdMS: 1,
		FlushScanDepth:    256,
		FlushIntervalMS:   3_600_000,
		PageHashStripes:   16,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	io := flushio.NewMemManager(cfg.PageSize)
	e, err := Open(cfg, logger, io, Options{})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, io
}

func pid(space, page uint32) pagemanager.PageID {
	return pagemanager.PageID{Space: pagemanager.SpaceID(space), PageNo: pagemanager.PageNo(page)}
}

// validFrame builds a checksummed page image for the I/O stub.
func validFrame(t *testing.T, fill byte, lsn uint64) []byte {
	t.Helper()
	frame := make([]byte, testPageSize)
	for i := checksum.OffsetData; i < len(frame)-checksum.TrailerSize; i++ {
		frame[i] = fill
	}
	checksum.AlgCRC32.Stamp(frame, lsn)
	return frame
}

func TestHitFastPath(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(7, 3))
	require.NoError(t, err)
	addr := b
	e.Release(b, LatchExclusive)

	before := e.Stats().PageGets
	b2, err := e.Get(pid(7, 3), GetAlways, LatchShared)
	require.NoError(t, err)
	require.Same(t, addr, b2, "hit must return the same descriptor")
	require.Equal(t, before+1, e.Stats().PageGets, "exactly one page get counted")
	e.Release(b2, LatchShared)
	require.NoError(t, e.Validate())
}

func TestMissWithRead(t *testing.T) {
	e, io := setupEngine(t, nil)
	io.Put(pid(7, 9), validFrame(t, 0xab, 41))

	b, err := e.Get(pid(7, 9), GetAlways, LatchShared)
	require.NoError(t, err)
	require.Equal(t, pagemanager.StateFilePage, b.State())
	require.Equal(t, uint32(1), b.FixCount())
	require.Equal(t, pagemanager.LSN(0), b.OldestModification())
	require.Equal(t, byte(0xab), b.Frame[checksum.OffsetData])
	require.Equal(t, uint64(1), e.Stats().PagesRead)
	e.Release(b, LatchShared)
	require.NoError(t, e.Validate())
}

func TestCorruptedReadCleansUp(t *testing.T) {
	e, io := setupEngine(t, nil)

	frame := validFrame(t, 0x42, 77)
	// Garbage in both checksum fields.
	copy(frame[checksum.FieldOffset:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	copy(frame[len(frame)-checksum.TrailerSize:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	io.Put(pid(7, 9), frame)

	freeBefore := e.Stats().FreeLen
	_, err := e.Get(pid(7, 9), GetAlways, LatchShared)
	require.ErrorIs(t, err, ErrPageCorrupted)

	require.Equal(t, freeBefore, e.Stats().FreeLen, "free list must return to its pre-call length")
	_, err = e.Get(pid(7, 9), GetIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool, "no hash entry may remain")
	require.NoError(t, e.Validate())
}

func TestReadErrorPropagates(t *testing.T) {
	e, io := setupEngine(t, nil)
	io.FailNextRead(pid(3, 1), flushio.ErrIO)

	_, err := e.Get(pid(3, 1), GetAlways, LatchExclusive)
	require.ErrorIs(t, err, flushio.ErrIO)
	require.NoError(t, e.Validate())

	// The failure is not sticky.
	b, err := e.Get(pid(3, 1), GetAlways, LatchExclusive)
	require.NoError(t, err)
	e.Release(b, LatchExclusive)
}

func TestTablespaceDeleted(t *testing.T) {
	e, io := setupEngine(t, nil)
	io.DropSpace(5)

	_, err := e.Get(pid(5, 1), GetAlways, LatchShared)
	require.ErrorIs(t, err, flushio.ErrTablespaceDeleted)
	require.NoError(t, e.Validate())
}

func TestGetModesOnMiss(t *testing.T) {
	e, _ := setupEngine(t, nil)

	_, err := e.Get(pid(1, 1), GetIfInPool, LatchShared)
	require.ErrorIs(t, err, ErrNotInPool)
	_, err = e.Get(pid(1, 1), PeekIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool)
	_, err = e.Get(pid(1, 1), EvictIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool)
}

func TestPinDiscipline(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(2, 1))
	require.NoError(t, err)
	e.Release(b, LatchExclusive)
	require.Equal(t, uint32(0), b.FixCount())

	// Matched get/release is pin-neutral.
	b2, err := e.Get(pid(2, 1), GetAlways, LatchShared)
	require.NoError(t, err)
	e.Release(b2, LatchShared)
	require.Equal(t, uint32(0), b.FixCount())

	// An unmatched get leaves exactly one excess pin.
	_, err = e.Get(pid(2, 1), GetAlways, LatchShared)
	require.NoError(t, err)
	b.Latch.SUnlock()
	require.Equal(t, uint32(1), b.FixCount())
	b.Unfix()
}

func TestCreateReleaseGetRoundTrip(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(9, 4))
	require.NoError(t, err)
	copy(b.Frame[checksum.OffsetData:], []byte("written in between"))
	e.MarkModified(b, 10)
	e.Release(b, LatchExclusive)

	b2, err := e.Get(pid(9, 4), GetAlways, LatchShared)
	require.NoError(t, err)
	require.Same(t, b, b2)
	require.Equal(t, []byte("written in between"), b2.Frame[checksum.OffsetData:checksum.OffsetData+18])
	e.Release(b2, LatchShared)
}

func TestCleanPageStableAcrossGets(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(9, 5))
	require.NoError(t, err)
	frame := &b.Frame[0]
	e.Release(b, LatchExclusive)

	b2, err := e.Get(pid(9, 5), GetAlways, LatchShared)
	require.NoError(t, err)
	require.Same(t, frame, &b2.Frame[0], "same frame address while the pool is not full")
	e.Release(b2, LatchShared)
}

func TestPeekDoesNotTouch(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(4, 4))
	require.NoError(t, err)
	e.Release(b, LatchExclusive)
	accessed := b.Accessed()

	time.Sleep(2 * time.Millisecond)
	b2, err := e.Get(pid(4, 4), PeekIfInPool, LatchNone)
	require.NoError(t, err)
	require.Equal(t, accessed, b2.Accessed(), "peek must not touch the access time")
	e.Release(b2, LatchNone)
}

func TestWatchLifecycle(t *testing.T) {
	e, io := setupEngine(t, nil)
	io.Put(pid(6, 2), validFrame(t, 0x01, 9))

	resident, err := e.WatchSet(pid(6, 2))
	require.NoError(t, err)
	require.Nil(t, resident, "page is missing, watch must arm")
	require.False(t, e.WatchOccurred(pid(6, 2)))

	// A peer read completes the watch.
	b, err := e.Get(pid(6, 2), GetAlways, LatchShared)
	require.NoError(t, err)
	require.True(t, e.WatchOccurred(pid(6, 2)))
	e.Release(b, LatchShared)

	e.WatchUnset(pid(6, 2))
	require.Equal(t, uint32(0), b.FixCount(), "the inherited watch pin must be released")

	// Watch on a resident page returns the page.
	resident, err = e.WatchSet(pid(6, 2))
	require.NoError(t, err)
	require.Same(t, b, resident)
	require.NoError(t, e.Validate())
}

func TestWatchUnsetBeforeRead(t *testing.T) {
	e, _ := setupEngine(t, nil)

	_, err := e.WatchSet(pid(6, 3))
	require.NoError(t, err)
	e.WatchUnset(pid(6, 3))
	require.False(t, e.WatchOccurred(pid(6, 3)))
	require.NoError(t, e.Validate())
}

func TestGetIfInPoolOrWatchReturnsSentinel(t *testing.T) {
	e, _ := setupEngine(t, nil)

	_, err := e.Get(pid(6, 4), GetIfInPoolOrWatch, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool, "first call arms the watch")

	s, err := e.Get(pid(6, 4), GetIfInPoolOrWatch, LatchNone)
	require.NoError(t, err)
	require.True(t, s.Sentinel, "second call returns the armed sentinel")
	s.Unfix()
	e.WatchUnset(pid(6, 4))
}

func TestFlushOrdering(t *testing.T) {
	e, io := setupEngine(t, nil)

	for i, lsn := range []pagemanager.LSN{100, 150, 200} {
		b, err := e.Create(pid(8, uint32(i+1)))
		require.NoError(t, err)
		e.MarkModified(b, lsn)
		e.Release(b, LatchExclusive)
	}

	n := e.Instance(0).FlushBatch(FlushList, 10, 0)
	require.Equal(t, 3, n)

	writes := io.Writes()
	require.Len(t, writes, 3)
	require.Equal(t, pagemanager.LSN(100), writes[0].LSN)
	require.Equal(t, pagemanager.LSN(150), writes[1].LSN)
	require.Equal(t, pagemanager.LSN(200), writes[2].LSN)
	require.Equal(t, pagemanager.LSN(0), e.OldestModification())
	require.NoError(t, e.Validate())
}

func TestCheckpointQuery(t *testing.T) {
	e, _ := setupEngine(t, nil)
	require.Equal(t, pagemanager.LSN(0), e.OldestModification(), "empty flush list reports zero")

	b, err := e.Create(pid(8, 9))
	require.NoError(t, err)
	e.MarkModified(b, 300)
	e.Release(b, LatchExclusive)
	require.Equal(t, pagemanager.LSN(300), e.OldestModification())

	written := e.FlushUpTo(300)
	require.Equal(t, 1, written)
	require.Equal(t, pagemanager.LSN(0), e.OldestModification())
}

func TestRecoveryOrderedFlushInserts(t *testing.T) {
	e, io := setupEngine(t, nil)

	e.BeginRecovery()
	for i, lsn := range []pagemanager.LSN{200, 100, 150} {
		b, err := e.Create(pid(12, uint32(i+1)))
		require.NoError(t, err)
		e.MarkModified(b, lsn)
		e.Release(b, LatchExclusive)
	}
	require.NoError(t, e.Validate(), "out-of-order dirtying must still yield an ordered flush list")
	e.EndRecovery()

	e.Instance(0).FlushBatch(FlushList, 10, 0)
	writes := io.Writes()
	require.Len(t, writes, 3)
	require.Equal(t, pagemanager.LSN(100), writes[0].LSN)
	require.Equal(t, pagemanager.LSN(150), writes[1].LSN)
	require.Equal(t, pagemanager.LSN(200), writes[2].LSN)
}

func TestPoolFullAllPinned(t *testing.T) {
	e, _ := setupEngine(t, func(c *Config) {
		c.TotalPoolBytes = 8 * testPageSize
	})

	var pinned []*pagemanager.Block
	for i := uint32(1); i <= 8; i++ {
		b, err := e.Create(pid(1, i))
		require.NoError(t, err)
		pinned = append(pinned, b)
	}

	_, err := e.Get(pid(2, 1), GetAlways, LatchShared)
	require.ErrorIs(t, err, ErrNoFreeBlock)

	for _, b := range pinned {
		e.Release(b, LatchExclusive)
	}
	require.NoError(t, e.Validate())
}

func TestPoolFullCleanUnpinnedEvicts(t *testing.T) {
	e, _ := setupEngine(t, func(c *Config) {
		c.TotalPoolBytes = 8 * testPageSize
	})

	for i := uint32(1); i <= 8; i++ {
		b, err := e.Create(pid(1, i))
		require.NoError(t, err)
		e.Release(b, LatchExclusive)
	}

	b, err := e.Get(pid(2, 1), GetAlways, LatchShared)
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.Stats().PagesEvicted)
	e.Release(b, LatchShared)
	require.NoError(t, e.Validate())
}

func TestPoolFullDirtyUnpinnedFlushesAndEvicts(t *testing.T) {
	e, io := setupEngine(t, func(c *Config) {
		c.TotalPoolBytes = 8 * testPageSize
	})

	for i := uint32(1); i <= 8; i++ {
		b, err := e.Create(pid(1, i))
		require.NoError(t, err)
		e.MarkModified(b, pagemanager.LSN(i))
		e.Release(b, LatchExclusive)
	}

	b, err := e.Get(pid(2, 1), GetAlways, LatchShared)
	require.NoError(t, err)
	e.Release(b, LatchShared)
	require.NotEmpty(t, io.Writes(), "a single-page flush must have run")
	require.NoError(t, e.Validate())
}

func TestEvictIfInPool(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(3, 3))
	require.NoError(t, err)
	e.Release(b, LatchExclusive)

	free := e.Stats().FreeLen
	_, err = e.Get(pid(3, 3), EvictIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool)
	require.Equal(t, free+1, e.Stats().FreeLen)

	_, err = e.Get(pid(3, 3), GetIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool)
	require.NoError(t, e.Validate())
}

func TestOptimisticGet(t *testing.T) {
	e, _ := setupEngine(t, nil)

	b, err := e.Create(pid(5, 5))
	require.NoError(t, err)
	clock := b.ModifyClock()
	e.Release(b, LatchExclusive)

	in := e.Instance(0)
	require.True(t, in.OptimisticGet(b, clock, LatchShared))
	e.Release(b, LatchShared)

	// Eviction bumps the modify clock; the stale pointer must be refused.
	_, err = e.Get(pid(5, 5), EvictIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool)
	require.False(t, in.OptimisticGet(b, clock, LatchShared))
}

func TestMidpointLRU(t *testing.T) {
	e, _ := setupEngine(t, func(c *Config) {
		c.TotalPoolBytes = 128 * testPageSize
		c.LRUOldThresholdMS = 1
	})

	// Fill most of the pool with created pages; (1,1) and (1,2) end up in
	// the old segment.
	for i := uint32(1); i <= 100; i++ {
		b, err := e.Create(pid(1, i))
		require.NoError(t, err)
		e.Release(b, LatchExclusive)
	}

	// Re-access (1,1) after the old threshold: promoted to the young head.
	time.Sleep(5 * time.Millisecond)
	b, err := e.Get(pid(1, 1), GetAlways, LatchShared)
	require.NoError(t, err)
	e.Release(b, LatchShared)
	require.NotZero(t, e.Stats().YoungMade)

	// A storm of one-shot reads enters at the midpoint and churns the old
	// segment.
	for i := uint32(0); i < 300; i++ {
		b, err := e.Get(pid(99, i), GetAlways, LatchShared)
		require.NoError(t, err)
		e.Release(b, LatchShared)
	}

	// The once-touched old page was evicted; the promoted page survived.
	_, err = e.Get(pid(1, 2), GetIfInPool, LatchNone)
	require.ErrorIs(t, err, ErrNotInPool, "cold page must have been evicted")
	b, err = e.Get(pid(1, 1), GetIfInPool, LatchShared)
	require.NoError(t, err, "promoted page must still be resident")
	e.Release(b, LatchShared)
	require.NoError(t, e.Validate())
}

func TestRelocateCompressedPage(t *testing.T) {
	e, _ := setupEngine(t, nil)
	in := e.Instance(0)

	// Fabricate a compressed-only resident page.
	src, err := in.allocBlock()
	require.NoError(t, err)
	id := pid(20, 1)
	stripe := in.hash.Stripe(id.Fold())
	stripe.XLock()
	in.mutex.Lock()
	src.ID = id
	src.ForceState(pagemanager.StateZipClean)
	src.ZipFrame = []byte("compressed payload")
	in.hash.Insert(id, src.Index)
	in.lruAdd(src.Index, true)
	in.mutex.Unlock()
	stripe.XUnlock()

	dst, err := in.allocBlock()
	require.NoError(t, err)

	require.NoError(t, in.Relocate(src.Index, dst.Index))

	in.mutex.Lock()
	stripeIdx := in.hash.Lookup(id)
	in.mutex.Unlock()
	require.Equal(t, dst.Index, stripeIdx, "hash must resolve to the new descriptor")
	require.Equal(t, []byte("compressed payload"), dst.ZipFrame)
	require.Equal(t, pagemanager.StateFree, src.State())
	require.True(t, dst.InLRUList)
	require.NoError(t, e.Validate())
}

func TestConcurrentGetsAndFlushes(t *testing.T) {
	e, _ := setupEngine(t, func(c *Config) {
		c.TotalPoolBytes = 64 * testPageSize
		c.FlushIntervalMS = 5
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed uint32) {
			defer wg.Done()
			lsn := pagemanager.LSN(seed*10_000 + 1)
			for i := 0; i < 300; i++ {
				id := pid(1, uint32(i%96)+1)
				b, err := e.Get(id, GetAlways, LatchExclusive)
				if err != nil {
					continue
				}
				b.Frame[checksum.OffsetData] = byte(seed)
				e.MarkModified(b, lsn)
				lsn++
				e.Release(b, LatchExclusive)
			}
		}(uint32(g))
	}
	wg.Wait()
	e.FlushAll()
	require.Equal(t, pagemanager.LSN(0), e.OldestModification())
	require.NoError(t, e.Validate())
}
