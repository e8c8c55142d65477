// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"runtime"
	"unsafe"

	"code.hybscloud.com/engine/vmem"
)

// localClass is a cache's view of the block it owns in one class.
type localClass struct {
	block int32
	base  unsafe.Pointer
	free  uint32 // private free list head, slot offset+1
	nfree int32
	reap  uint32
	limit uint32
}

// cacheState is everything a cache owns. It is kept apart from Cache so
// that a collected Cache can hand its blocks back.
type cacheState struct {
	id    CacheID
	local [NumClasses]localClass
}

// Cache is a per-owner allocation front end for a Heap.
// It is not safe for concurrent use.
type Cache struct {
	h       *Heap
	st      *cacheState
	cleanup runtime.Cleanup
}

// NewCache returns a cache that owns no blocks yet.
func (h *Heap) NewCache() *Cache {
	st, ok := h.retired.Pop()
	if !ok {
		st = &cacheState{id: nextCacheID()}
		for i := range st.local {
			st.local[i].block = noBlock
		}
	}
	c := &Cache{h: h, st: st}
	c.cleanup = runtime.AddCleanup(c, h.retire, st)
	return c
}

// ID returns the identifier this cache stamps on the blocks it owns.
func (c *Cache) ID() CacheID {
	return c.st.id
}

// Heap returns the heap c allocates from.
func (c *Cache) Heap() *Heap {
	return c.h
}

// Alloc returns size bytes. Sizes above MaxSmall are mapped directly.
func (c *Cache) Alloc(size uintptr) unsafe.Pointer {
	cls := ClassFor(size)
	if cls < 0 {
		return vmem.Map(size)
	}
	lc := &c.st.local[cls]
	for {
		if lc.free != 0 {
			off := lc.free - 1
			p := unsafe.Add(lc.base, off)
			lc.free = *slotLink(lc.base, off)
			lc.nfree--
			checkPoison(p, classSizes[cls])
			trackAlloc(p)
			return p
		}
		if lc.reap < lc.limit {
			p := unsafe.Add(lc.base, lc.reap)
			lc.reap += uint32(classSizes[cls])
			trackAlloc(p)
			return p
		}
		c.h.acquire(c.st.id, cls, lc)
	}
}

// Free releases p. Pointers from any cache of the same heap, and from
// vmem.Map, are accepted. Freeing nil is a no-op.
func (c *Cache) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h := c.h
	if !h.arena.IsBlockPtr(p) {
		vmem.Unmap(p)
		return
	}
	idx, cls, off := h.checkPointer(p)
	trackFree(p)
	poison(p, classSizes[cls])
	if h.headers[idx].owner.Load() == c.st.id {
		lc := &c.st.local[cls]
		*slotLink(lc.base, off) = lc.free
		lc.free = off + 1
		lc.nfree++
		return
	}
	h.freeRemote(idx, cls, off)
}

// Release returns every block c owns to the heap. c must not be used
// afterwards.
func (c *Cache) Release() {
	if c.st == nil {
		return
	}
	c.cleanup.Stop()
	c.h.retire(c.st)
	c.st = nil
}
