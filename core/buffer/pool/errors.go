package pool

import "errors"

// --- Error Definitions ---

var (
	ErrNotInPool        = errors.New("page not in buffer pool")
	ErrPageCorrupted    = errors.New("page checksum mismatch, data corruption suspected")
	ErrDecryptionFailed = errors.New("page decryption failed")
	ErrNoFreeBlock      = errors.New("buffer pool is full and no pages can be evicted")
	ErrPoolClosed       = errors.New("buffer pool is closed")
)
