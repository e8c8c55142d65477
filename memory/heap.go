// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/atomix"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"

	"code.hybscloud.com/engine/internal/fatal"
	"code.hybscloud.com/engine/lockfree"
	"code.hybscloud.com/engine/vmem"
)

const (
	noClass = -1
	noBlock = -1
)

// blockHeader is the side-table entry for one arena block.
//
// class is written while no object of the block is live. owner is read
// without the lock by the owning cache only; every other field is guarded
// by the class lock.
type blockHeader struct {
	owner     atomix.Uint32
	class     int8
	inPartial bool
	prev      int32
	next      int32
	shared    uint32 // remote free list head, slot offset+1
	nshared   int32
	nfree     int32  // free slots while unowned
	reap      uint32 // first never-used slot while unowned
}

// central is the shared state of one size class.
type central struct {
	mu       lockfree.SpinLock
	partial  int32
	npartial int
	nblocks  int
	_        cpu.CacheLinePad
}

// Heap is a set of size-class pools over one arena.
type Heap struct {
	arena   *vmem.Arena
	headers []blockHeader
	classes [NumClasses]central
	caches  sync.Pool
	retired lockfree.Stack[*cacheState]
	log     *logrus.Logger

	// closeMu orders collector-driven cache retirement against Close.
	closeMu sync.RWMutex
	closed  atomix.Uint32
}

// New reserves an arena and returns an empty heap over it.
func New(opts ...Option) (*Heap, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	arena, err := vmem.New(cfg.arenaSize)
	if err != nil {
		return nil, errors.Wrap(err, "memory: new heap")
	}
	h := &Heap{
		arena:   arena,
		headers: make([]blockHeader, arena.Blocks()),
		log:     cfg.logger,
	}
	for i := range h.headers {
		h.headers[i].class = noClass
	}
	for i := range h.classes {
		h.classes[i].partial = noBlock
	}
	h.caches.New = func() any { return h.NewCache() }
	h.log.WithFields(logrus.Fields{
		"arena":  arena.Size(),
		"blocks": arena.Blocks(),
	}).Debug("memory: heap reserved")
	return h, nil
}

// Arena returns the block arena backing h.
func (h *Heap) Arena() *vmem.Arena {
	return h.arena
}

// Alloc returns size bytes using a pooled cache. Safe for concurrent use.
func (h *Heap) Alloc(size uintptr) unsafe.Pointer {
	if ClassFor(size) < 0 {
		return vmem.Map(size)
	}
	c := h.caches.Get().(*Cache)
	p := c.Alloc(size)
	h.caches.Put(c)
	return p
}

// Free releases p, which must come from Alloc of h, from a Cache of h or
// from vmem.Map. Freeing nil is a no-op. Safe for concurrent use.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !h.arena.IsBlockPtr(p) {
		vmem.Unmap(p)
		return
	}
	c := h.caches.Get().(*Cache)
	c.Free(p)
	h.caches.Put(c)
}

// ClassOf returns the size class of the live object at p, recovered from
// its block header, or -1 if p is not a pooled pointer of h.
func (h *Heap) ClassOf(p unsafe.Pointer) int {
	if p == nil || !h.arena.IsBlockPtr(p) {
		return noClass
	}
	return int(h.headers[h.arena.BlockOf(p)].class)
}

// SizeOf returns the usable size of the allocation at p.
func (h *Heap) SizeOf(p unsafe.Pointer) uintptr {
	if cls := h.ClassOf(p); cls >= 0 {
		return classSizes[cls]
	}
	if n, ok := vmem.MappedSize(p); ok {
		return n
	}
	return 0
}

// Close releases the arena. No pointer from h may be used afterwards and
// no Cache of h may be in use.
func (h *Heap) Close() error {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed.Load() != 0 {
		return nil
	}
	h.closed.Store(1)
	h.log.WithField("blocks", h.arena.InUse()).Debug("memory: heap closed")
	return h.arena.Close()
}

// acquire gives lc a block of class cls with at least one free slot.
// The current block, if any, has no private slots left.
func (h *Heap) acquire(id CacheID, cls int, lc *localClass) {
	ce := &h.classes[cls]
	ce.mu.Lock()
	if lc.block != noBlock {
		hd := &h.headers[lc.block]
		if hd.shared != 0 {
			lc.free, lc.nfree = hd.shared, hd.nshared
			hd.shared, hd.nshared = 0, 0
			ce.mu.Unlock()
			return
		}
		// Full: no list holds it until a remote free arrives.
		if empty := h.disown(ce, cls, lc); empty != nil {
			ce.mu.Unlock()
			h.arena.FreeBlock(empty)
			ce.mu.Lock()
		}
	}
	if idx := ce.partial; idx != noBlock {
		ce.unlink(h.headers, idx)
		hd := &h.headers[idx]
		hd.owner.Store(id)
		*lc = localClass{
			block: idx,
			base:  h.arena.Block(int(idx)),
			free:  hd.shared,
			nfree: hd.nshared,
			reap:  hd.reap,
			limit: blockLimit(cls),
		}
		hd.shared, hd.nshared, hd.nfree = 0, 0, 0
		ce.mu.Unlock()
		return
	}
	ce.mu.Unlock()

	p := h.arena.AllocBlock()
	ce.mu.Lock()
	ce.nblocks++
	ce.mu.Unlock()
	idx := int32(h.arena.BlockOf(p))
	hd := &h.headers[idx]
	hd.class = int8(cls)
	hd.inPartial = false
	hd.prev, hd.next = noBlock, noBlock
	hd.shared, hd.nshared, hd.nfree, hd.reap = 0, 0, 0, 0
	hd.owner.Store(id)
	*lc = localClass{block: idx, base: p, limit: blockLimit(cls)}
}

// disown moves lc's block from the cache back to shared state and resets
// lc. The caller holds ce.mu. It returns the block address when every slot
// is free and the block must go back to the arena after unlocking.
func (h *Heap) disown(ce *central, cls int, lc *localClass) unsafe.Pointer {
	idx := lc.block
	hd := &h.headers[idx]
	if lc.free != 0 {
		tail := lc.free
		for {
			next := *slotLink(lc.base, tail-1)
			if next == 0 {
				break
			}
			tail = next
		}
		*slotLink(lc.base, tail-1) = hd.shared
		hd.shared = lc.free
		hd.nshared += lc.nfree
	}
	hd.reap = lc.reap
	hd.nfree = hd.nshared + int32((lc.limit-lc.reap)/uint32(classSizes[cls]))
	hd.owner.Store(0)
	base := lc.base
	*lc = localClass{block: noBlock}

	switch {
	case hd.nfree == slotsPerBlock(cls):
		return h.retireBlock(ce, idx, base)
	case hd.nfree > 0:
		ce.push(h.headers, idx)
	}
	return nil
}

// freeRemote puts the slot at off of block idx on the block's shared list.
func (h *Heap) freeRemote(idx int32, cls int, off uint32) {
	ce := &h.classes[cls]
	hd := &h.headers[idx]
	base := h.arena.Block(int(idx))

	ce.mu.Lock()
	*slotLink(base, off) = hd.shared
	hd.shared = off + 1
	hd.nshared++
	if hd.owner.Load() != 0 {
		ce.mu.Unlock()
		return
	}
	hd.nfree++
	var empty unsafe.Pointer
	switch {
	case hd.nfree == slotsPerBlock(cls):
		empty = h.retireBlock(ce, idx, base)
	case !hd.inPartial:
		ce.push(h.headers, idx)
	}
	ce.mu.Unlock()
	if empty != nil {
		h.arena.FreeBlock(empty)
	}
}

// retireBlock detaches an entirely free, unowned block from its class.
// The caller holds ce.mu and hands the result to arena.FreeBlock.
func (h *Heap) retireBlock(ce *central, idx int32, base unsafe.Pointer) unsafe.Pointer {
	hd := &h.headers[idx]
	if hd.inPartial {
		ce.unlink(h.headers, idx)
	}
	hd.class = noClass
	hd.shared, hd.nshared, hd.nfree = 0, 0, 0
	ce.nblocks--
	return base
}

// retire hands every block owned by st back to the heap and keeps st for
// reuse by NewCache.
func (h *Heap) retire(st *cacheState) {
	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed.Load() != 0 {
		return
	}
	for cls := range st.local {
		lc := &st.local[cls]
		if lc.block == noBlock {
			continue
		}
		ce := &h.classes[cls]
		ce.mu.Lock()
		empty := h.disown(ce, cls, lc)
		ce.mu.Unlock()
		if empty != nil {
			h.arena.FreeBlock(empty)
		}
	}
	h.retired.Push(st)
}

// push adds block idx to the head of the partial list.
func (ce *central) push(headers []blockHeader, idx int32) {
	hd := &headers[idx]
	hd.prev, hd.next = noBlock, ce.partial
	if ce.partial != noBlock {
		headers[ce.partial].prev = idx
	}
	ce.partial = idx
	hd.inPartial = true
	ce.npartial++
}

// unlink removes block idx from the partial list.
func (ce *central) unlink(headers []blockHeader, idx int32) {
	hd := &headers[idx]
	if hd.prev != noBlock {
		headers[hd.prev].next = hd.next
	} else {
		ce.partial = hd.next
	}
	if hd.next != noBlock {
		headers[hd.next].prev = hd.prev
	}
	hd.prev, hd.next = noBlock, noBlock
	hd.inPartial = false
	ce.npartial--
}

// slotLink returns the free-list link stored in the first word of the
// slot at off.
func slotLink(base unsafe.Pointer, off uint32) *uint32 {
	return (*uint32)(unsafe.Add(base, off))
}

// checkPointer validates a pooled pointer and returns its block index,
// class and offset. An unallocated block or a misaligned pointer is fatal.
func (h *Heap) checkPointer(p unsafe.Pointer) (int32, int, uint32) {
	idx := int32(h.arena.BlockOf(p))
	cls := int(h.headers[idx].class)
	if cls == noClass {
		fatal.Errorf("memory: free of %p in unallocated block %d", p, idx)
	}
	off := uint32(uintptr(p) - uintptr(h.arena.Block(int(idx))))
	if debugChecks && (off%uint32(classSizes[cls]) != 0 || off >= blockLimit(cls)) {
		fatal.Errorf("memory: free of misaligned pointer %p (class %d, offset %d)", p, classSizes[cls], off)
	}
	return idx, cls, off
}
