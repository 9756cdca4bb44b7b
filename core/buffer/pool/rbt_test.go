package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

func TestFlushRBTSuccessor(t *testing.T) {
	tr := newFlushRBT()
	for i, lsn := range []uint64{100, 300, 200} {
		tr.insert(lsn, int32(i))
	}

	require.Equal(t, int32(0), tr.successor(50, 0), "smallest key above 50 is lsn 100")
	require.Equal(t, int32(2), tr.successor(100, 0), "above (100,0) comes (200,2)")
	require.Equal(t, int32(1), tr.successor(250, 0))
	require.Equal(t, pagemanager.NilIdx, tr.successor(300, 1), "nothing above the maximum")
}

func TestFlushRBTDelete(t *testing.T) {
	tr := newFlushRBT()
	tr.insert(10, 1)
	tr.insert(20, 2)
	tr.insert(30, 3)

	tr.delete(20, 2)
	require.Equal(t, 2, tr.size)
	require.Equal(t, int32(3), tr.successor(10, 1))

	tr.delete(99, 9) // absent: no-op
	require.Equal(t, 2, tr.size)
}

func TestFlushRBTRandomized(t *testing.T) {
	tr := newFlushRBT()
	rng := rand.New(rand.NewSource(1))

	present := map[int32]uint64{}
	for i := int32(0); i < 500; i++ {
		lsn := uint64(rng.Intn(10_000) + 1)
		tr.insert(lsn, i)
		present[i] = lsn
	}
	for idx, lsn := range present {
		if idx%3 == 0 {
			tr.delete(lsn, idx)
			delete(present, idx)
		}
	}
	require.Equal(t, len(present), tr.size)

	// Walking successors from zero must enumerate every key in order.
	count := 0
	lsn, idx := uint64(0), pagemanager.NilIdx
	for {
		next := tr.successor(lsn, idx)
		if next == pagemanager.NilIdx {
			break
		}
		nextLSN := present[next]
		require.True(t, nextLSN > lsn || (nextLSN == lsn && next > idx))
		lsn, idx = nextLSN, next
		count++
	}
	require.Equal(t, len(present), count)
}
