// Package flushio is the single-page I/O collaborator of the buffer pool.
// The pool hands it one page-aligned buffer at a time: asynchronous reads
// on the miss path, synchronous writes from the flush batches. Everything
// about files, extents and tablespace layout stays behind this interface.
package flushio

import (
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// Manager is the I/O surface the pool depends on. AsyncRead fills dest and
// delivers exactly one error (possibly nil) on the returned channel; the
// pool treats that delivery as its read-completion signal. SyncWrite must
// not return before the page is on its way to stable storage.
type Manager interface {
	AsyncRead(id pagemanager.PageID, dest []byte) <-chan error
	SyncWrite(id pagemanager.PageID, src []byte, lsn pagemanager.LSN) error
}
