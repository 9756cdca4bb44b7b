package flushio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

const testPageSize = 512

func pid(space, page uint32) pagemanager.PageID {
	return pagemanager.PageID{Space: pagemanager.SpaceID(space), PageNo: pagemanager.PageNo(page)}
}

func TestMemManagerReadWrite(t *testing.T) {
	m := NewMemManager(testPageSize)

	frame := make([]byte, testPageSize)
	frame[100] = 0x7f
	require.NoError(t, m.SyncWrite(pid(1, 5), frame, 42))

	dest := make([]byte, testPageSize)
	require.NoError(t, <-m.AsyncRead(pid(1, 5), dest))
	require.Equal(t, byte(0x7f), dest[100])

	writes := m.Writes()
	require.Len(t, writes, 1)
	require.Equal(t, pagemanager.LSN(42), writes[0].LSN)
}

func TestMemManagerAbsentPageReadsZero(t *testing.T) {
	m := NewMemManager(testPageSize)
	dest := make([]byte, testPageSize)
	dest[0] = 0xff
	require.NoError(t, <-m.AsyncRead(pid(9, 9), dest))
	require.Equal(t, byte(0), dest[0])
}

func TestMemManagerDroppedSpace(t *testing.T) {
	m := NewMemManager(testPageSize)
	m.DropSpace(4)

	dest := make([]byte, testPageSize)
	require.ErrorIs(t, <-m.AsyncRead(pid(4, 1), dest), ErrTablespaceDeleted)
	require.ErrorIs(t, m.SyncWrite(pid(4, 1), dest, 1), ErrTablespaceDeleted)
}

func TestMemManagerSizeMismatch(t *testing.T) {
	m := NewMemManager(testPageSize)
	require.ErrorIs(t, <-m.AsyncRead(pid(1, 1), make([]byte, 64)), ErrBadPageSize)
}

func setupFileManager(t *testing.T) *FileManager {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	f, err := NewFileManager(t.TempDir(), testPageSize, logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })
	return f
}

func TestFileManagerRoundTrip(t *testing.T) {
	f := setupFileManager(t)

	frame := make([]byte, testPageSize)
	copy(frame, []byte("page three"))
	require.NoError(t, f.SyncWrite(pid(1, 3), frame, 7))

	dest := make([]byte, testPageSize)
	require.NoError(t, <-f.AsyncRead(pid(1, 3), dest))
	require.Equal(t, frame, dest)
}

func TestFileManagerReadPastEndIsZero(t *testing.T) {
	f := setupFileManager(t)

	frame := make([]byte, testPageSize)
	require.NoError(t, f.SyncWrite(pid(1, 0), frame, 1))

	dest := make([]byte, testPageSize)
	dest[10] = 0xee
	require.NoError(t, <-f.AsyncRead(pid(1, 50), dest))
	require.Equal(t, byte(0), dest[10])
}

func TestFileManagerDropSpace(t *testing.T) {
	f := setupFileManager(t)

	frame := make([]byte, testPageSize)
	require.NoError(t, f.SyncWrite(pid(2, 0), frame, 1))
	require.NoError(t, f.DropSpace(2))

	dest := make([]byte, testPageSize)
	require.ErrorIs(t, <-f.AsyncRead(pid(2, 0), dest), ErrTablespaceDeleted)
}
