package pool

import (
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// Watch sentinels let a thread observe a missing page appearing through a
// peer's read. A sentinel is an in-hash descriptor with no frame; when the
// real page arrives, the read path removes the sentinel and the page
// inherits the watchers' pins. The slot count is small (purge threads + 1)
// and slots recycle as watches clear.

// WatchSet installs a watch on a missing page. If the page is already
// resident the resident block is returned and no watch is armed; a nil
// return means the watch is armed (or joined an existing one).
func (in *Instance) WatchSet(id pagemanager.PageID) (*pagemanager.Block, error) {
	fold := id.Fold()
	stripe := in.hash.Stripe(fold)
	stripe.XLock()
	in.mutex.Lock()
	defer func() {
		in.mutex.Unlock()
		stripe.XUnlock()
	}()

	if idx := in.hash.Lookup(id); idx != pagemanager.NilIdx {
		b := &in.blocks[idx]
		if b.Sentinel {
			b.Fix()
			return nil, nil
		}
		return b, nil
	}

	for i := in.nFrames; i < len(in.blocks); i++ {
		s := &in.blocks[i]
		if s.FixCount() == 0 {
			s.ID = id
			s.Fix()
			in.hash.Insert(id, s.Index)
			in.stats.NWatchSet.Add(1)
			return nil, nil
		}
	}
	// Sized to the maximum number of concurrent watchers; running out is a
	// provisioning bug, not a runtime condition.
	panic("buffer pool: watch sentinel slots exhausted")
}

// WatchOccurred reports whether the watched page has appeared: it is
// resident and no longer represented by a sentinel.
func (in *Instance) WatchOccurred(id pagemanager.PageID) bool {
	stripe := in.hash.Stripe(id.Fold())
	stripe.SLock()
	idx := in.hash.Lookup(id)
	occurred := idx != pagemanager.NilIdx && !in.blocks[idx].Sentinel
	stripe.SUnlock()
	return occurred
}

// WatchUnset drops the caller's watch. If the page arrived meanwhile, the
// pin the real page inherited from the sentinel is released instead.
func (in *Instance) WatchUnset(id pagemanager.PageID) {
	stripe := in.hash.Stripe(id.Fold())
	stripe.XLock()
	in.mutex.Lock()
	idx := in.hash.Lookup(id)
	if idx == pagemanager.NilIdx {
		in.mutex.Unlock()
		stripe.XUnlock()
		return
	}
	b := &in.blocks[idx]
	b.Unfix()
	if b.Sentinel && b.FixCount() == 0 {
		in.hash.Remove(id, idx)
		b.ID = pagemanager.PageID{}
	}
	in.mutex.Unlock()
	stripe.XUnlock()
}

// watchArm is the Get-side entry: arm (or join) a watch for a missing id.
func (in *Instance) watchArm(id pagemanager.PageID) {
	_, _ = in.WatchSet(id)
}
