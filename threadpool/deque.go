// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/cpu"

	"code.hybscloud.com/engine/lockfree"
)

// allocator is the raw memory source for queue buffers.
// *memory.Cache and *memory.Heap both satisfy it.
type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	Free(p unsafe.Pointer)
}

const slotSize = unsafe.Sizeof(uint32(0))

// deque is a work-stealing queue of task indices.
//
// The owning worker pushes and pops at the tail without locking. Thieves
// take from the head and always hold the lock, so at most one thief races
// the owner. The owner takes the lock only to grow or compact the buffer,
// or when a pop meets a concurrent steal for the last element.
//
// Invariant: head <= tail, and [head, tail) holds tasks not yet run.
//
// pop stores tail then loads head, and steal stores head then loads tail.
// Both sides issue a full barrier between the two, otherwise the owner and
// a thief can take the same last element. A slot is published by the
// release store of tail that follows its write.
type deque struct {
	head atomix.Int64
	_    cpu.CacheLinePad
	tail atomix.Int64
	_    cpu.CacheLinePad

	lock   lockfree.SpinLock
	items  unsafe.Pointer
	length int64
	mem    allocator
}

func (d *deque) init(mem allocator, length int) {
	d.mem = mem
	d.length = int64(length)
	d.items = mem.Alloc(uintptr(length) * slotSize)
}

func (d *deque) slot(i int64) *uint32 {
	return (*uint32)(unsafe.Add(d.items, uintptr(i)*slotSize))
}

// push appends v at the tail. Owner only.
func (d *deque) push(v uint32) {
	t := d.tail.Load()
	if t == d.length {
		d.lock.Lock()
		h := d.head.Load()
		if h <= d.length/4 {
			// At least three quarters full: double.
			old := d.items
			n := d.length * 2
			items := d.mem.Alloc(uintptr(n) * slotSize)
			copy(unsafe.Slice((*uint32)(items), t-h), unsafe.Slice((*uint32)(unsafe.Add(old, uintptr(h)*slotSize)), t-h))
			d.items, d.length = items, n
			d.mem.Free(old)
		} else {
			copy(unsafe.Slice((*uint32)(d.items), t-h), unsafe.Slice(d.slot(h), t-h))
		}
		t -= h
		d.head.Store(0)
		// Publish the compacted tail before thieves can look again.
		d.tail.StoreRelease(t)
		d.lock.Unlock()
	}
	*d.slot(t) = v
	d.tail.StoreRelease(t + 1)
}

// pop removes the most recently pushed index. Owner only.
func (d *deque) pop() (uint32, bool) {
	t := d.tail.Load()
	if d.head.Load() >= t {
		return 0, false
	}
	t--
	d.tail.Store(t)
	atomix.BarrierAcqRel()
	if d.head.Load() <= t {
		return *d.slot(t), true
	}

	// A thief reached the same element; settle it under the lock.
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.head.Load() <= t {
		return *d.slot(t), true
	}
	d.tail.Store(t + 1)
	return 0, false
}

// steal removes the oldest index. Any goroutine.
func (d *deque) steal() (uint32, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	h := d.head.Load()
	d.head.Store(h + 1)
	atomix.BarrierAcqRel()
	if h < d.tail.LoadAcquire() {
		return *d.slot(h), true
	}
	d.head.Store(h)
	return 0, false
}

// size is a racy length snapshot.
func (d *deque) size() int {
	return int(max(d.tail.Load()-d.head.Load(), 0))
}

// release frees the buffer. No other goroutine may touch d.
func (d *deque) release() {
	if d.items != nil {
		d.mem.Free(d.items)
		d.items = nil
	}
}
