package redo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

func setupLogManager(t *testing.T) *LogManager {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	lm, err := NewLogManager(t.TempDir(), 4096, logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, lm.Close()) })
	return lm
}

func TestAppendAssignsSequentialLSNs(t *testing.T) {
	lm := setupLogManager(t)

	for i := 1; i <= 3; i++ {
		rec := &Record{Type: RecordTypeUpdate, PageID: pagemanager.PageID{Space: 1, PageNo: 2}, Data: []byte("x")}
		lsn, err := lm.AppendRecord(rec)
		require.NoError(t, err)
		require.Equal(t, pagemanager.LSN(i), lsn, "LSN should be sequential and 1-based")
	}
	require.Equal(t, pagemanager.LSN(4), lm.CurrentLSN())
}

func TestSyncAdvancesDurableLSN(t *testing.T) {
	lm := setupLogManager(t)

	_, err := lm.AppendRecord(&Record{Type: RecordTypeNewPage})
	require.NoError(t, err)
	require.Equal(t, pagemanager.LSN(0), lm.DurableLSN(), "nothing durable before sync")

	require.NoError(t, lm.Sync())
	require.Equal(t, pagemanager.LSN(1), lm.DurableLSN())
}

func TestOversizedRecordRejected(t *testing.T) {
	lm := setupLogManager(t)

	_, err := lm.AppendRecord(&Record{Type: RecordTypeUpdate, Data: make([]byte, 1<<20)})
	require.ErrorIs(t, err, ErrRecordTooBig)
}

func TestBufferRolloverFlushes(t *testing.T) {
	lm := setupLogManager(t)

	// Enough records to overflow the 4 KiB buffer several times.
	for i := 0; i < 100; i++ {
		_, err := lm.AppendRecord(&Record{Type: RecordTypeUpdate, Data: make([]byte, 100)})
		require.NoError(t, err)
	}
	require.NoError(t, lm.Sync())
	require.Equal(t, pagemanager.LSN(100), lm.DurableLSN())
}
