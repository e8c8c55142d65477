// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"code.hybscloud.com/engine/lockfree"
)

// inbound is the shared queue for tasks submitted from outside the pool.
//
// A bounded lock-free MPMC ring takes the common case. When it is full,
// tasks spill into a growable ring under a spin lock, which doubles like
// the deque does. Order is FIFO within each lane.
type inbound struct {
	fast lfq.Queue[uint32]

	lock     lockfree.SpinLock
	ring     unsafe.Pointer
	capacity int
	first    int
	count    int
	spilled  atomix.Int64
	mem      allocator
}

func (q *inbound) init(mem allocator, fast, spill int) {
	fast = 1 << bits.Len(uint(max(fast, 2)-1))
	q.fast = lfq.Build[uint32](lfq.New(fast).Compact())
	q.mem = mem
	q.capacity = spill
	q.ring = mem.Alloc(uintptr(spill) * slotSize)
}

func (q *inbound) at(i int) *uint32 {
	return (*uint32)(unsafe.Add(q.ring, uintptr(i%q.capacity)*slotSize))
}

// push enqueues v. Never blocks beyond the spill lock.
func (q *inbound) push(v uint32) {
	if q.spilled.Load() == 0 {
		if err := q.fast.Enqueue(&v); err == nil {
			return
		}
	}
	q.lock.Lock()
	if q.count == q.capacity {
		n := q.capacity * 2
		ring := q.mem.Alloc(uintptr(n) * slotSize)
		dst := unsafe.Slice((*uint32)(ring), n)
		for i := range q.count {
			dst[i] = *q.at(q.first + i)
		}
		q.mem.Free(q.ring)
		q.ring, q.capacity, q.first = ring, n, 0
	}
	*q.at(q.first + q.count) = v
	q.count++
	q.spilled.Add(1)
	q.lock.Unlock()
}

// pop dequeues the next index. Returns iox.ErrWouldBlock when both lanes
// are empty.
func (q *inbound) pop() (uint32, error) {
	v, err := q.fast.Dequeue()
	if err == nil {
		return v, nil
	}
	if !lfq.IsWouldBlock(err) {
		return 0, err
	}
	if q.spilled.Load() == 0 {
		return 0, iox.ErrWouldBlock
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.count == 0 {
		return 0, iox.ErrWouldBlock
	}
	v = *q.at(q.first)
	q.first = (q.first + 1) % q.capacity
	q.count--
	q.spilled.Add(-1)
	return v, nil
}

func (q *inbound) release() {
	if q.ring != nil {
		q.mem.Free(q.ring)
		q.ring = nil
	}
}
