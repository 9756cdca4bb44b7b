// Package redo is the buffer pool's view of the redo log: an LSN allocator
// and a durability horizon. The pool never interprets log contents; it only
// needs Sync-before-write (a dirty page must not reach disk ahead of its
// log) and the durable LSN for checkpoint progress.
package redo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

var (
	ErrLogClosed    = errors.New("log manager is closed")
	ErrRecordTooBig = errors.New("log record exceeds the buffer size")
)

// LSNSource is what the buffer pool depends on.
type LSNSource interface {
	// CurrentLSN returns the next LSN to be assigned.
	CurrentLSN() pagemanager.LSN
	// DurableLSN returns the highest LSN known to be on stable storage.
	DurableLSN() pagemanager.LSN
	// Sync makes every appended record durable.
	Sync() error
}

// RecordType tags an appended record.
type RecordType byte

const (
	RecordTypeUpdate RecordType = iota + 1
	RecordTypeNewPage
	RecordTypeCheckpoint
)

// Record is one redo entry. The pool logs page-level records only; higher
// layers are expected to bring their own types.
type Record struct {
	LSN    pagemanager.LSN
	Type   RecordType
	PageID pagemanager.PageID
	Data   []byte
}

const recordHeaderSize = 8 + 1 + 4 + 4 + 4 + 4 // lsn, type, space, page, len, crc

// LogManager is a minimal single-file redo log: appends are buffered in
// memory and made durable by Sync. It implements LSNSource.
type LogManager struct {
	mu         sync.Mutex
	file       *os.File
	buf        []byte
	currentLSN pagemanager.LSN
	durableLSN atomic.Uint64
	closed     bool
	logger     *zap.Logger
	bufferSize int
}

// NewLogManager creates or appends to dir/redo.log.
func NewLogManager(dir string, bufferSize int, logger *zap.Logger) (*LogManager, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("log buffer size must be positive")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, "redo.log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	lm := &LogManager{
		file:       file,
		buf:        make([]byte, 0, bufferSize),
		currentLSN: 1,
		logger:     logger,
		bufferSize: bufferSize,
	}
	logger.Info("log manager initialized", zap.String("path", path))
	return lm, nil
}

// AppendRecord assigns the next LSN to rec, encodes it into the log buffer
// and returns the LSN. The record is not durable until Sync.
func (lm *LogManager) AppendRecord(rec *Record) (pagemanager.LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return 0, ErrLogClosed
	}
	need := recordHeaderSize + len(rec.Data)
	if need > lm.bufferSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooBig, need)
	}
	if len(lm.buf)+need > lm.bufferSize {
		if err := lm.flushLocked(); err != nil {
			return 0, err
		}
	}

	rec.LSN = lm.currentLSN
	lm.currentLSN++

	var hdr [recordHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:], uint64(rec.LSN))
	hdr[8] = byte(rec.Type)
	binary.BigEndian.PutUint32(hdr[9:], uint32(rec.PageID.Space))
	binary.BigEndian.PutUint32(hdr[13:], uint32(rec.PageID.PageNo))
	binary.BigEndian.PutUint32(hdr[17:], uint32(len(rec.Data)))
	binary.BigEndian.PutUint32(hdr[21:], crc32.ChecksumIEEE(rec.Data))
	lm.buf = append(lm.buf, hdr[:]...)
	lm.buf = append(lm.buf, rec.Data...)
	return rec.LSN, nil
}

func (lm *LogManager) flushLocked() error {
	if len(lm.buf) == 0 {
		return nil
	}
	if _, err := lm.file.Write(lm.buf); err != nil {
		return fmt.Errorf("failed to write log buffer: %w", err)
	}
	lm.buf = lm.buf[:0]
	return nil
}

// Sync flushes the buffer and fsyncs the log file, advancing the durable
// horizon to every LSN assigned so far.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return ErrLogClosed
	}
	if err := lm.flushLocked(); err != nil {
		return err
	}
	if err := lm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	lm.durableLSN.Store(uint64(lm.currentLSN - 1))
	return nil
}

// CurrentLSN returns the next LSN to be assigned.
func (lm *LogManager) CurrentLSN() pagemanager.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.currentLSN
}

// DurableLSN returns the highest durable LSN.
func (lm *LogManager) DurableLSN() pagemanager.LSN {
	return pagemanager.LSN(lm.durableLSN.Load())
}

// Close syncs and closes the log file.
func (lm *LogManager) Close() error {
	if err := lm.Sync(); err != nil && !errors.Is(err, ErrLogClosed) {
		return err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return nil
	}
	lm.closed = true
	return lm.file.Close()
}
