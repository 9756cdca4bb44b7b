package flushio

import (
	"fmt"
	"sync"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// MemManager is an in-memory Manager. It backs tests and benchmarks: pages
// can be preloaded or corrupted at will, spaces can be dropped to provoke
// ErrTablespaceDeleted, and every completed write is recorded in order so
// flush ordering is observable.
type MemManager struct {
	mu       sync.Mutex
	pageSize int
	pages    map[pagemanager.PageID][]byte
	dropped  map[pagemanager.SpaceID]bool
	writeLog []WriteRecord
	failRead map[pagemanager.PageID]error
}

// WriteRecord is one completed SyncWrite.
type WriteRecord struct {
	ID  pagemanager.PageID
	LSN pagemanager.LSN
}

// NewMemManager creates an empty in-memory store for pages of the given
// size. Reads of absent pages return zero frames, like a freshly extended
// file.
func NewMemManager(pageSize int) *MemManager {
	return &MemManager{
		pageSize: pageSize,
		pages:    make(map[pagemanager.PageID][]byte),
		dropped:  make(map[pagemanager.SpaceID]bool),
		failRead: make(map[pagemanager.PageID]error),
	}
}

// Put stores a page image, overwriting any previous one.
func (m *MemManager) Put(id pagemanager.PageID, frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.mu.Lock()
	m.pages[id] = cp
	m.mu.Unlock()
}

// Page returns a copy of the stored image, nil if absent.
func (m *MemManager) Page(id pagemanager.PageID) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.pages[id]
	if !ok {
		return nil
	}
	cp := make([]byte, len(src))
	copy(cp, src)
	return cp
}

// DropSpace makes every later operation against the space fail with
// ErrTablespaceDeleted.
func (m *MemManager) DropSpace(space pagemanager.SpaceID) {
	m.mu.Lock()
	m.dropped[space] = true
	m.mu.Unlock()
}

// FailNextRead injects an error for one page's next read.
func (m *MemManager) FailNextRead(id pagemanager.PageID, err error) {
	m.mu.Lock()
	m.failRead[id] = err
	m.mu.Unlock()
}

// Writes returns the completed writes in completion order.
func (m *MemManager) Writes() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRecord, len(m.writeLog))
	copy(out, m.writeLog)
	return out
}

// AsyncRead implements Manager.
func (m *MemManager) AsyncRead(id pagemanager.PageID, dest []byte) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- m.read(id, dest)
	}()
	return ch
}

func (m *MemManager) read(id pagemanager.PageID, dest []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(dest) != m.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadPageSize, len(dest), m.pageSize)
	}
	if m.dropped[id.Space] {
		return ErrTablespaceDeleted
	}
	if err, ok := m.failRead[id]; ok {
		delete(m.failRead, id)
		return err
	}
	src, ok := m.pages[id]
	if !ok {
		for i := range dest {
			dest[i] = 0
		}
		return nil
	}
	copy(dest, src)
	return nil
}

// SyncWrite implements Manager.
func (m *MemManager) SyncWrite(id pagemanager.PageID, src []byte, lsn pagemanager.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(src) != m.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadPageSize, len(src), m.pageSize)
	}
	if m.dropped[id.Space] {
		return ErrTablespaceDeleted
	}
	cp := make([]byte, len(src))
	copy(cp, src)
	m.pages[id] = cp
	m.writeLog = append(m.writeLog, WriteRecord{ID: id, LSN: lsn})
	return nil
}
