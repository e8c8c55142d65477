// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/memory"
)

func newHeap(t testing.TB) *memory.Heap {
	t.Helper()
	h, err := memory.New(memory.WithArenaSize(64 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func TestDequeOwnerLIFOThiefFIFO(t *testing.T) {
	var d deque
	d.init(newHeap(t), 8)
	defer d.release()

	for i := range uint32(5) {
		d.push(i)
	}
	v, ok := d.pop()
	require.True(t, ok)
	assert.Equal(t, uint32(4), v)
	v, ok = d.steal()
	require.True(t, ok)
	assert.Equal(t, uint32(0), v)
	assert.Equal(t, 3, d.size())

	for _, want := range []uint32{3, 2, 1} {
		v, ok = d.pop()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok = d.pop()
	assert.False(t, ok)
	_, ok = d.steal()
	assert.False(t, ok)
}

func TestDequeGrowAndCompact(t *testing.T) {
	var d deque
	d.init(newHeap(t), 4)
	defer d.release()

	for i := range uint32(100) {
		d.push(i)
	}
	assert.GreaterOrEqual(t, d.length, int64(100))
	for i := range uint32(60) {
		v, ok := d.steal()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	length := d.length
	// Fill to the end of the buffer again: the stolen prefix is reclaimed
	// by compaction instead of growing.
	for i := d.tail.Load(); i <= length; i++ {
		d.push(uint32(1000 + i))
	}
	assert.Equal(t, length, d.length)
	assert.Zero(t, d.head.Load())

	seen := 0
	for {
		_, ok := d.steal()
		if !ok {
			break
		}
		seen++
	}
	assert.Equal(t, 40+int(length-100)+1, seen)
}

func TestDequeConcurrentStealNoLossNoDup(t *testing.T) {
	skipRace(t)
	var d deque
	d.init(newHeap(t), 16)
	defer d.release()

	const n, thieves = 200000, 4
	seen := make([]uint32, n)
	var wg sync.WaitGroup
	var done sync.WaitGroup
	done.Add(1)
	stop := make(chan struct{})
	for range thieves {
		wg.Go(func() {
			for {
				if v, ok := d.steal(); ok {
					seen[v]++
					continue
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		})
	}
	go func() {
		defer done.Done()
		for i := range uint32(n) {
			d.push(i)
			if i%3 == 0 {
				if v, ok := d.pop(); ok {
					seen[v]++
				}
			}
		}
		for {
			v, ok := d.pop()
			if !ok {
				break
			}
			seen[v]++
		}
	}()
	done.Wait()
	close(stop)
	wg.Wait()
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("task %d taken %d times", i, c)
		}
	}
}

func TestDequeLastElementTakenOnce(t *testing.T) {
	skipRace(t)
	var d deque
	d.init(newHeap(t), 16)
	defer d.release()

	const n = 500000
	seen := make([]atomic.Int32, n)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			if v, ok := d.steal(); ok {
				seen[v].Add(1)
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	})
	// Every pop contends with the thief for a single element.
	for i := range uint32(n) {
		d.push(i)
		if v, ok := d.pop(); ok {
			seen[v].Add(1)
		}
	}
	close(stop)
	wg.Wait()
	for {
		v, ok := d.pop()
		if !ok {
			break
		}
		seen[v].Add(1)
	}
	for i := range seen {
		if c := seen[i].Load(); c != 1 {
			t.Fatalf("task %d taken %d times", i, c)
		}
	}
}

func TestInboundSpillsAndDrains(t *testing.T) {
	var q inbound
	q.init(newHeap(t), 4, 4)
	defer q.release()

	const n = 50
	for i := range uint32(n) {
		q.push(i)
	}
	got := make(map[uint32]bool)
	for {
		v, err := q.pop()
		if err != nil {
			require.ErrorIs(t, err, iox.ErrWouldBlock)
			break
		}
		require.False(t, got[v], "duplicate %d", v)
		got[v] = true
	}
	assert.Len(t, got, n)
	assert.Zero(t, q.spilled.Load())

	q.push(7)
	v, err := q.pop()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
}
