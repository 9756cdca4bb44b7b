// Package pagemanager defines the identity, state machine, and descriptor
// (block) of one cached file page. The buffer pool owns all blocks by index
// into its chunk array; blocks reference each other through index links,
// never owning pointers.
package pagemanager

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SpaceID identifies a tablespace.
type SpaceID uint32

// PageNo is the page number within a tablespace.
type PageNo uint32

// LSN is a log sequence number.
type LSN uint64

// InvalidLSN marks a page with no unflushed modification.
const InvalidLSN LSN = 0

// DefaultPageSize is the uncompressed page size.
const DefaultPageSize = 16 * 1024

// PageID identifies one page: (tablespace, page number). Pages never change
// identity while cached; a descriptor is re-keyed only through the free
// state.
type PageID struct {
	Space  SpaceID
	PageNo PageNo
}

// Fold returns the hash fingerprint of the identity. It feeds both the page
// hash bucket choice and the pool instance sharding, so it must be stable
// for the life of the process.
func (id PageID) Fold() uint64 {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(id.Space))
	binary.BigEndian.PutUint32(b[4:8], uint32(id.PageNo))
	return xxhash.Sum64(b[:])
}

func (id PageID) String() string {
	return fmt.Sprintf("%d:%d", id.Space, id.PageNo)
}

// NilIdx is the null value for intrusive index links.
const NilIdx int32 = -1
