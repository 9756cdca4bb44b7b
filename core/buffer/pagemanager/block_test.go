package pagemanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newBlock() *Block {
	b := &Block{}
	b.Init(0)
	return b
}

func TestStateTransitions(t *testing.T) {
	b := newBlock()
	require.Equal(t, StateFree, b.State())

	b.SetState(StateReadyForUse)
	b.SetState(StateFilePage)
	b.SetState(StateRemoveHash)
	b.SetState(StateFree)

	b.SetState(StateReadyForUse)
	b.SetState(StateMemory)
	b.SetState(StateFree)
}

func TestIllegalTransitionPanics(t *testing.T) {
	b := newBlock()
	require.Panics(t, func() { b.SetState(StateFilePage) }, "FREE cannot jump straight to FILE_PAGE")

	b.SetState(StateReadyForUse)
	b.SetState(StateFilePage)
	require.Panics(t, func() { b.SetState(StateFree) }, "FILE_PAGE must pass through REMOVE_HASH")
}

func TestPinning(t *testing.T) {
	b := newBlock()
	b.Fix()
	b.Fix()
	require.Equal(t, uint32(2), b.FixCount())
	b.Unfix()
	b.Unfix()
	require.Equal(t, uint32(0), b.FixCount())
	require.Panics(t, func() { b.Unfix() })
}

func TestDirtyTracking(t *testing.T) {
	b := newBlock()
	require.False(t, b.IsDirty())
	b.SetOldestModification(100)
	b.SetNewestModification(120)
	require.True(t, b.IsDirty())
	b.SetOldestModification(0)
	require.False(t, b.IsDirty())
}

func TestAccessedIsFirstTouchOnly(t *testing.T) {
	b := newBlock()
	require.Zero(t, b.Accessed())
	b.SetAccessed(1000)
	b.SetAccessed(2000)
	require.Equal(t, int64(1000), b.Accessed(), "only the first access sticks")
	b.ResetAccessed()
	require.Zero(t, b.Accessed())
}

func TestEvictable(t *testing.T) {
	b := newBlock()
	require.True(t, b.Evictable())

	b.Fix()
	require.False(t, b.Evictable(), "pinned pages stay")
	b.Unfix()

	b.SetIOState(IORead)
	require.False(t, b.Evictable(), "I/O-fixed pages stay")
	b.SetIOState(IONone)

	b.SetOldestModification(5)
	require.False(t, b.Evictable(), "dirty pages stay")
	b.SetOldestModification(0)
	require.True(t, b.Evictable())
}

func TestFoldIsStableAndSpreads(t *testing.T) {
	a := PageID{Space: 1, PageNo: 2}.Fold()
	require.Equal(t, a, PageID{Space: 1, PageNo: 2}.Fold())
	require.NotEqual(t, a, PageID{Space: 2, PageNo: 1}.Fold())
}
