// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory_test

import (
	"math/rand/v2"
	"sync"
	"testing"
	"testing/quick"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/internal/fatal"
	"code.hybscloud.com/engine/memory"
	"code.hybscloud.com/engine/vmem"
)

func newHeap(t testing.TB, arena uintptr) *memory.Heap {
	t.Helper()
	h, err := memory.New(memory.WithArenaSize(arena))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func fill(p unsafe.Pointer, n uintptr, seed byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = seed + byte(i)
	}
}

func intact(p unsafe.Pointer, n uintptr, seed byte) bool {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		if b[i] != seed+byte(i) {
			return false
		}
	}
	return true
}

func TestClassFor(t *testing.T) {
	cases := []struct {
		size uintptr
		want uintptr
	}{
		{0, 8}, {1, 8}, {8, 8}, {9, 16}, {17, 24}, {25, 32}, {33, 48},
		{63, 64}, {65, 96}, {100, 128}, {129, 192}, {200, 256},
		{257, 384}, {385, 512}, {513, 768}, {769, 1024}, {1024, 1024},
	}
	for _, c := range cases {
		cls := memory.ClassFor(c.size)
		require.GreaterOrEqual(t, cls, 0, "size %d", c.size)
		assert.Equal(t, c.want, memory.ClassSize(cls), "size %d", c.size)
	}
	assert.Equal(t, -1, memory.ClassFor(1025))
}

func TestRoundTripSizes(t *testing.T) {
	h := newHeap(t, 64<<20)
	sizes := []uintptr{1, 7, 8, 9, 63, 64, 65, 1024, 1025, 1048576}
	for _, size := range sizes {
		p := h.Alloc(size)
		require.NotNil(t, p, "size %d", size)
		require.GreaterOrEqual(t, h.SizeOf(p), size)
		fill(p, size, byte(size))
		require.True(t, intact(p, size, byte(size)))
		h.Free(p)
	}
	h.Free(nil)
}

// TestConcurrentSentinelStress keeps many allocations of every tested size
// live across goroutines, checking each sentinel before it is freed, and
// frees a share of them on a different goroutine than allocated them.
func TestConcurrentSentinelStress(t *testing.T) {
	h := newHeap(t, 256<<20)
	sizes := []uintptr{1, 7, 8, 9, 63, 64, 65, 1024, 1025, 1048576}

	type alloc struct {
		p    unsafe.Pointer
		size uintptr
		seed byte
	}
	const workers, rounds, live = 8, 2000, 256
	handoff := make(chan alloc, workers*live)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Go(func() {
			c := h.NewCache()
			defer c.Release()
			rng := rand.New(rand.NewPCG(uint64(w), 1))
			held := make([]alloc, 0, live)
			release := func(a alloc) {
				if !intact(a.p, a.size, a.seed) {
					t.Errorf("allocation %p of %d bytes corrupted", a.p, a.size)
				}
				c.Free(a.p)
			}
			for i := range rounds {
				size := sizes[rng.IntN(len(sizes))]
				if size > memory.MaxSmall && rng.IntN(8) != 0 {
					size = sizes[rng.IntN(8)]
				}
				a := alloc{p: c.Alloc(size), size: size, seed: byte(w*31 + i)}
				fill(a.p, a.size, a.seed)
				held = append(held, a)
				if len(held) < live {
					continue
				}
				k := rng.IntN(len(held))
				victim := held[k]
				held[k] = held[len(held)-1]
				held = held[:len(held)-1]
				if rng.IntN(4) == 0 {
					select {
					case handoff <- victim:
						continue
					default:
					}
				}
				release(victim)
			}
			for _, a := range held {
				release(a)
			}
			for {
				select {
				case a := <-handoff:
					release(a)
				default:
					return
				}
			}
		})
	}
	wg.Wait()
	close(handoff)
	for a := range handoff {
		require.True(t, intact(a.p, a.size, a.seed))
		h.Free(a.p)
	}
}

// TestPropertyClassFromAddress checks that the class recovered from a
// pointer alone matches the class chosen at allocation time.
func TestPropertyClassFromAddress(t *testing.T) {
	h := newHeap(t, 32<<20)
	c := h.NewCache()
	defer c.Release()
	property := func(raw []uint16) bool {
		ptrs := make([]unsafe.Pointer, len(raw))
		for i, r := range raw {
			size := uintptr(r) % (memory.MaxSmall + 1)
			ptrs[i] = c.Alloc(size)
			if h.ClassOf(ptrs[i]) != memory.ClassFor(size) {
				return false
			}
		}
		for i, r := range raw {
			size := uintptr(r) % (memory.MaxSmall + 1)
			if h.SizeOf(ptrs[i]) != memory.ClassSize(memory.ClassFor(size)) {
				return false
			}
			c.Free(ptrs[i])
		}
		return true
	}
	require.NoError(t, quick.Check(property, nil))
}

func TestRemoteFreeReturnsBlock(t *testing.T) {
	h := newHeap(t, 4<<20)
	owner := h.NewCache()
	const n = vmem.BlockSize/1024 + 1
	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptrs[i] = owner.Alloc(1000)
	}
	require.Equal(t, 2, h.Arena().InUse())
	// The first block filled up and was handed back to the class.
	require.Equal(t, 2, h.Stats().Classes[memory.ClassFor(1000)].Blocks)
	owner.Release()

	other := h.NewCache()
	defer other.Release()
	for _, p := range ptrs {
		other.Free(p)
	}
	assert.Zero(t, h.Arena().InUse(), "fully freed blocks were not returned")
	assert.Zero(t, h.Stats().Classes[memory.ClassFor(1024)].Blocks)
}

func TestPartialBlockIsReclaimed(t *testing.T) {
	h := newHeap(t, 4<<20)
	a := h.NewCache()
	first := a.Alloc(64)
	second := a.Alloc(64)
	a.Release()

	cls := memory.ClassFor(64)
	stats := h.Stats()
	require.Equal(t, 1, stats.Classes[cls].Partial)
	require.Equal(t, 1, stats.ArenaInUse)

	b := h.NewCache()
	defer b.Release()
	p := b.Alloc(64)
	assert.Equal(t, h.Arena().BlockOf(first), h.Arena().BlockOf(p))
	assert.Equal(t, 1, h.Arena().InUse())
	assert.Zero(t, h.Stats().Classes[cls].Partial)

	b.Free(first)
	b.Free(second)
	b.Free(p)
}

func TestOwnerFreeReusesSlot(t *testing.T) {
	h := newHeap(t, 4<<20)
	c := h.NewCache()
	defer c.Release()
	p := c.Alloc(32)
	c.Free(p)
	assert.Equal(t, p, c.Alloc(32))
}

func TestArenaExhaustionIsFatal(t *testing.T) {
	h := newHeap(t, vmem.BlockSize)
	c := h.NewCache()
	defer c.Release()
	c.Alloc(8)
	var r any
	func() {
		defer func() { r = recover() }()
		c.Alloc(16)
	}()
	require.True(t, fatal.Is(r), "exhaustion raised %v", r)

	// The failed class never counted a block it did not get.
	stats := h.Stats()
	assert.Zero(t, stats.Classes[memory.ClassFor(16)].Blocks)
	assert.Equal(t, 1, stats.Classes[memory.ClassFor(8)].Blocks)
	assert.Equal(t, 1, stats.ArenaInUse)
}

func TestFreeUnallocatedBlockIsFatal(t *testing.T) {
	h := newHeap(t, 2*vmem.BlockSize)
	c := h.NewCache()
	defer c.Release()
	p := c.Alloc(8)
	stray := unsafe.Add(p, vmem.BlockSize)
	require.True(t, h.Arena().IsBlockPtr(stray))
	require.Panics(t, func() { c.Free(stray) })
}

func TestStatsAndCollector(t *testing.T) {
	h := newHeap(t, 8<<20)
	c := h.NewCache()
	defer c.Release()
	p := c.Alloc(100)
	q := c.Alloc(4096)
	defer c.Free(q)
	defer c.Free(p)

	s := h.Stats()
	assert.Equal(t, 1, s.Classes[memory.ClassFor(100)].Blocks)
	assert.GreaterOrEqual(t, s.MappedBytes, int64(4096))
	assert.Contains(t, s.String(), "class  128: 1 blocks")

	assert.Equal(t, 3+2*memory.NumClasses, testutil.CollectAndCount(memory.NewCollector(h)))
}

func TestGlobalLifecycle(t *testing.T) {
	var early unsafe.Pointer
	if memory.Default() == nil {
		early = memory.Alloc(24)
		_, mapped := vmem.MappedSize(early)
		require.True(t, mapped, "allocation before Init must be mapped")
	}

	h, err := memory.Init(memory.WithArenaSize(16 << 20))
	require.NoError(t, err)
	again, err := memory.Init()
	require.NoError(t, err)
	require.Same(t, h, again)
	require.Same(t, h, memory.Default())

	memory.Free(early)

	p := memory.Alloc(40)
	require.True(t, h.Arena().IsBlockPtr(p))
	require.Equal(t, uintptr(48), memory.SizeOf(p))
	memory.Free(p)
	memory.Free(nil)
}

func TestCopyString(t *testing.T) {
	_, err := memory.Init(memory.WithArenaSize(16 << 20))
	require.NoError(t, err)

	assert.Equal(t, "", memory.CopyString(""))
	seven := memory.CopyString("7")
	assert.Equal(t, "7", seven)
	assert.Same(t, unsafe.StringData(seven), unsafe.StringData(memory.CopyString("7")))
	memory.FreeString(seven)
	memory.FreeString("")

	src := "engine core"
	dup := memory.CopyString(src)
	assert.Equal(t, src, dup)
	assert.NotSame(t, unsafe.StringData(src), unsafe.StringData(dup))
	assert.Equal(t, uintptr(16), memory.SizeOf(unsafe.Pointer(unsafe.StringData(dup))))
	memory.FreeString(dup)

	long := string(make([]byte, 4000))
	dupLong := memory.CopyString(long)
	assert.Equal(t, long, dupLong)
	memory.FreeString(dupLong)
}

func BenchmarkCacheAllocFree(b *testing.B) {
	h := newHeap(b, 16<<20)
	c := h.NewCache()
	defer c.Release()
	b.ReportAllocs()
	for b.Loop() {
		c.Free(c.Alloc(64))
	}
}

func BenchmarkHeapAllocFreeParallel(b *testing.B) {
	h := newHeap(b, 64<<20)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h.Free(h.Alloc(128))
		}
	})
}
