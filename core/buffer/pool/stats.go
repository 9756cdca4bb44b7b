package pool

import "sync/atomic"

// Stats are per-instance counters. The hot-path ones are relaxed atomics;
// exactness matters only for tests and monitoring snapshots.
type Stats struct {
	NPageGets         atomic.Uint64
	NPagesRead        atomic.Uint64
	NPagesWritten     atomic.Uint64
	NPagesCreated     atomic.Uint64
	NPagesEvicted     atomic.Uint64
	NYoungMade        atomic.Uint64
	NNotYoungMade     atomic.Uint64
	NReadAhead        atomic.Uint64
	NReadAheadEvicted atomic.Uint64
	NWatchSet         atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters plus list lengths.
type StatsSnapshot struct {
	PageGets         uint64
	PagesRead        uint64
	PagesWritten     uint64
	PagesCreated     uint64
	PagesEvicted     uint64
	YoungMade        uint64
	NotYoungMade     uint64
	ReadAhead        uint64
	ReadAheadEvicted uint64
	WatchSet         uint64

	FreeLen   int
	LRULen    int
	LRUOldLen int
	FlushLen  int
	UnzipLen  int
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		PageGets:         s.NPageGets.Load(),
		PagesRead:        s.NPagesRead.Load(),
		PagesWritten:     s.NPagesWritten.Load(),
		PagesCreated:     s.NPagesCreated.Load(),
		PagesEvicted:     s.NPagesEvicted.Load(),
		YoungMade:        s.NYoungMade.Load(),
		NotYoungMade:     s.NNotYoungMade.Load(),
		ReadAhead:        s.NReadAhead.Load(),
		ReadAheadEvicted: s.NReadAheadEvicted.Load(),
		WatchSet:         s.NWatchSet.Load(),
	}
}

func (a StatsSnapshot) add(b StatsSnapshot) StatsSnapshot {
	a.PageGets += b.PageGets
	a.PagesRead += b.PagesRead
	a.PagesWritten += b.PagesWritten
	a.PagesCreated += b.PagesCreated
	a.PagesEvicted += b.PagesEvicted
	a.YoungMade += b.YoungMade
	a.NotYoungMade += b.NotYoungMade
	a.ReadAhead += b.ReadAhead
	a.ReadAheadEvicted += b.ReadAheadEvicted
	a.WatchSet += b.WatchSet
	a.FreeLen += b.FreeLen
	a.LRULen += b.LRULen
	a.LRUOldLen += b.LRUOldLen
	a.FlushLen += b.FlushLen
	a.UnzipLen += b.UnzipLen
	return a
}
