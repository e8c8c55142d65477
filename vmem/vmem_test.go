// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vmem_test

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/vmem"
)

func newArena(t *testing.T, blocks int) *vmem.Arena {
	t.Helper()
	a, err := vmem.New(uintptr(blocks) * vmem.BlockSize)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestArenaBlocksAlignedAndDisjoint(t *testing.T) {
	a := newArena(t, 8)
	require.Equal(t, 8, a.Blocks())

	seen := map[int]bool{}
	for range 8 {
		p, err := a.TryAllocBlock()
		require.NoError(t, err)
		require.Zero(t, uintptr(p)%vmem.BlockSize, "block %p not aligned", p)
		require.True(t, a.IsBlockPtr(p))
		idx := a.BlockOf(p)
		require.False(t, seen[idx], "block %d handed out twice", idx)
		seen[idx] = true
		require.Equal(t, p, a.Block(idx))

		// Committed memory is writable end to end.
		b := unsafe.Slice((*byte)(p), vmem.BlockSize)
		b[0], b[vmem.BlockSize-1] = 0xaa, 0x55
	}
	assert.Equal(t, 8, a.InUse())

	_, err := a.TryAllocBlock()
	require.ErrorIs(t, err, vmem.ErrExhausted)
}

func TestArenaFreeRewindsCursor(t *testing.T) {
	a := newArena(t, 130)
	ptrs := make([]unsafe.Pointer, 130)
	for i := range ptrs {
		ptrs[i] = a.AllocBlock()
		require.Equal(t, i, a.BlockOf(ptrs[i]))
	}
	// Free one block in the first bitset word; the next allocation must
	// find it even though the cursor had moved past.
	a.FreeBlock(ptrs[3])
	p := a.AllocBlock()
	assert.Equal(t, 3, a.BlockOf(p))
	assert.Equal(t, 130, a.InUse())
}

func TestArenaRecycledBlockIsZeroed(t *testing.T) {
	a := newArena(t, 1)
	p := a.AllocBlock()
	*(*uint64)(p) = 0xdeadbeef
	a.FreeBlock(p)
	p = a.AllocBlock()
	assert.Zero(t, *(*uint64)(p))
}

func TestArenaIsBlockPtrRange(t *testing.T) {
	a := newArena(t, 2)
	p := a.AllocBlock()
	assert.True(t, a.IsBlockPtr(unsafe.Add(p, vmem.BlockSize-1)))

	var local int
	assert.False(t, a.IsBlockPtr(unsafe.Pointer(&local)))
	assert.False(t, a.IsBlockPtr(nil))
}

func TestArenaFreeForeignPointerIsFatal(t *testing.T) {
	a := newArena(t, 2)
	p := a.AllocBlock()
	require.Panics(t, func() { a.FreeBlock(unsafe.Add(p, 8)) })
	a.FreeBlock(p)
	require.Panics(t, func() { a.FreeBlock(p) })
}

func TestArenaConcurrentAllocFree(t *testing.T) {
	const blocks, workers = 64, 8
	a := newArena(t, blocks)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		owned = map[int]int{}
	)
	for w := range workers {
		wg.Go(func() {
			for range 200 {
				p, err := a.TryAllocBlock()
				if err != nil {
					continue
				}
				idx := a.BlockOf(p)
				mu.Lock()
				if prev, ok := owned[idx]; ok {
					mu.Unlock()
					t.Errorf("block %d owned by %d and %d", idx, prev, w)
					return
				}
				owned[idx] = w
				mu.Unlock()

				*(*int)(p) = w

				mu.Lock()
				delete(owned, idx)
				mu.Unlock()
				a.FreeBlock(p)
			}
		})
	}
	wg.Wait()
	assert.Zero(t, a.InUse())
}

func TestMapUnmap(t *testing.T) {
	before := vmem.MappedBytes()
	p := vmem.Map(3 << 20)
	require.NotNil(t, p)

	n, ok := vmem.MappedSize(p)
	require.True(t, ok)
	require.Equal(t, uintptr(3<<20), n)
	require.Equal(t, before+3<<20, vmem.MappedBytes())

	b := unsafe.Slice((*byte)(p), n)
	for _, v := range b[:4096] {
		require.Zero(t, v)
	}
	b[n-1] = 1

	require.Equal(t, uintptr(3<<20), vmem.Unmap(p))
	_, ok = vmem.MappedSize(p)
	require.False(t, ok)
	require.Equal(t, before, vmem.MappedBytes())
}

func TestUnmapUnknownIsFatal(t *testing.T) {
	var x [16]byte
	require.Panics(t, func() { vmem.Unmap(unsafe.Pointer(&x)) })
}
