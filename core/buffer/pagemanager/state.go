package pagemanager

import "fmt"

// State is the lifecycle state of a block. The legal transitions are
// enforced by SetState:
//
//	FREE → READY_FOR_USE → {MEMORY, FILE_PAGE}
//	MEMORY → FREE
//	FILE_PAGE → REMOVE_HASH → FREE
//	FILE_PAGE ↔ ZIP_CLEAN/ZIP_DIRTY for compressed pages
//
// POOL_WATCH is reserved for watch sentinels, which never leave it.
type State uint8

const (
	StatePoolWatch State = iota
	StateZipClean
	StateZipDirty
	StateFree
	StateReadyForUse
	StateFilePage
	StateMemory
	StateRemoveHash
)

func (s State) String() string {
	switch s {
	case StatePoolWatch:
		return "POOL_WATCH"
	case StateZipClean:
		return "ZIP_CLEAN"
	case StateZipDirty:
		return "ZIP_DIRTY"
	case StateFree:
		return "FREE"
	case StateReadyForUse:
		return "READY_FOR_USE"
	case StateFilePage:
		return "FILE_PAGE"
	case StateMemory:
		return "MEMORY"
	case StateRemoveHash:
		return "REMOVE_HASH"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// InPageHash reports whether a block in this state is registered in the
// page hash (invariant 3).
func (s State) InPageHash() bool {
	switch s {
	case StateFilePage, StateZipClean, StateZipDirty, StatePoolWatch:
		return true
	}
	return false
}

var legalTransitions = map[State][]State{
	StateFree:        {StateReadyForUse},
	StateReadyForUse: {StateMemory, StateFilePage, StateFree},
	StateMemory:      {StateFree},
	StateFilePage:    {StateRemoveHash, StateZipClean, StateZipDirty},
	StateRemoveHash:  {StateFree},
	StateZipClean:    {StateZipDirty, StateFilePage, StateRemoveHash},
	StateZipDirty:    {StateZipClean, StateFilePage},
	StatePoolWatch:   {StatePoolWatch},
}

// IOState is the I/O fix state of a block. While READING the block latch is
// held exclusively by the I/O slot; PINNED forbids relocation without
// implying I/O.
type IOState uint8

const (
	IONone IOState = iota
	IORead
	IOWrite
	IOPinned
)

func (s IOState) String() string {
	switch s {
	case IONone:
		return "NONE"
	case IORead:
		return "READING"
	case IOWrite:
		return "WRITING"
	case IOPinned:
		return "PINNED_NO_IO"
	}
	return fmt.Sprintf("IOState(%d)", uint8(s))
}
