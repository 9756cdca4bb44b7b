// Package crypt defines the encryption hook the pool calls around page I/O
// and the scratch-slot array that lends the hook temporary buffers. A page
// may be read by one thread while a flusher writes it out encrypted, so the
// two operations must never share a buffer.
package crypt

import (
	"errors"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// ErrDecrypt is returned when the post-read transformation fails; the pool
// maps it to its DecryptionFailed error kind.
var ErrDecrypt = errors.New("page decryption failed")

// Encryptor transforms frames on their way to and from disk.
//
// EncryptBeforeWrite returns the buffer that must land on disk. It may
// return src unchanged (encryption disabled for the space) or fill and
// return dst, which the caller lends from a scratch slot.
//
// DecryptAfterRead decrypts frame in place, using scratch as working space.
type Encryptor interface {
	EncryptBeforeWrite(id pagemanager.PageID, src, dst []byte) ([]byte, error)
	DecryptAfterRead(id pagemanager.PageID, frame, scratch []byte) error
}

// Noop passes frames through untouched.
type Noop struct{}

func (Noop) EncryptBeforeWrite(_ pagemanager.PageID, src, _ []byte) ([]byte, error) {
	return src, nil
}

func (Noop) DecryptAfterRead(pagemanager.PageID, []byte, []byte) error {
	return nil
}
