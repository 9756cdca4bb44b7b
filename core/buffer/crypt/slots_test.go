package crypt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotPoolAcquireRelease(t *testing.T) {
	p := NewSlotPool(2, 128)
	require.Equal(t, 2, p.Len())

	a := p.Acquire()
	b := p.Acquire()
	require.NotSame(t, a, b)
	require.Len(t, a.CryptBuf, 128)
	require.Len(t, a.CompBuf, 128)
	require.Len(t, a.OutBuf, 128)

	p.Release(a)
	c := p.Acquire()
	require.Same(t, a, c, "released slot is reused")
	p.Release(b)
	p.Release(c)
}

func TestSlotPoolContention(t *testing.T) {
	p := NewSlotPool(4, 64)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := p.Acquire()
				s.CryptBuf[0]++
				p.Release(s)
			}
		}()
	}
	wg.Wait()

	// Every slot must be back in the pool: acquiring all of them cannot
	// block.
	var all []*Slot
	for i := 0; i < 4; i++ {
		all = append(all, p.Acquire())
	}
	for _, s := range all {
		p.Release(s)
	}
	require.Len(t, all, 4)
}
