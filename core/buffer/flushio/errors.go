package flushio

import "errors"

// --- Error Definitions ---

var (
	ErrIO                = errors.New("i/o error")
	ErrTablespaceDeleted = errors.New("tablespace was deleted")
	ErrShortIO           = errors.New("short page read or write")
	ErrBadPageSize       = errors.New("buffer length does not match the page size")
)
