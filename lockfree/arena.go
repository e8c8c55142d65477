// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lockfree

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

const (
	chunkShift = 10
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1
	maxChunks  = 4096

	// MaxSlots is the number of slots an Arena can address.
	MaxSlots = chunkSize * maxChunks
)

// Nil is the index value that never names a slot.
const Nil = ^uint32(0)

type slot[T any] struct {
	next atomix.Uint32
	val  T
}

type chunk[T any] [chunkSize]slot[T]

// Arena is chunked slot storage addressed by uint32 index.
//
// Slots are handed out by Alloc and returned by Free; a freed slot goes on
// an ABA-tagged free list and is recycled, never released. Chunks are
// allocated on demand and stay reachable for the lifetime of the Arena,
// so a stale index always refers to valid memory.
//
// Alloc, Free and At are safe for concurrent use. Access to the value of a
// slot is the caller's responsibility.
type Arena[T any] struct {
	free   atomix.Uint64
	next   atomix.Uint32
	live   atomix.Int64
	chunks [maxChunks]atomic.Pointer[chunk[T]]
}

// Alloc returns the index of an unused slot and a pointer to its value.
// The value holds whatever the previous owner left; callers reset it.
// Panics when MaxSlots slots are live.
func (a *Arena[T]) Alloc() (uint32, *T) {
	if i, ok := a.pop(&a.free); ok {
		a.live.Add(1)
		return i, a.At(i)
	}
	i := a.next.Add(1) - 1
	if i >= MaxSlots {
		panic("lockfree: arena exhausted")
	}
	c := i >> chunkShift
	if a.chunks[c].Load() == nil {
		a.chunks[c].CompareAndSwap(nil, new(chunk[T]))
	}
	a.live.Add(1)
	return i, a.At(i)
}

// Free returns slot i to the free list. The slot must not be used again
// until Alloc hands it out.
func (a *Arena[T]) Free(i uint32) {
	a.live.Add(-1)
	a.push(&a.free, i)
}

// At returns a pointer to the value of slot i.
func (a *Arena[T]) At(i uint32) *T {
	return &a.slot(i).val
}

// Len returns the number of slots currently allocated.
func (a *Arena[T]) Len() int {
	return int(a.live.Load())
}

// Cap returns the number of slots ever carved from chunks.
func (a *Arena[T]) Cap() int {
	return int(min(a.next.Load(), MaxSlots))
}

func (a *Arena[T]) slot(i uint32) *slot[T] {
	return &a.chunks[i>>chunkShift].Load()[i&chunkMask]
}

// Tagged list heads pack a 32-bit ABA tag above index+1; zero is empty.

func packHead(tag uint32, i uint32) uint64 {
	return uint64(tag)<<32 | uint64(i+1)
}

func unpackHead(h uint64) (tag uint32, i uint32, ok bool) {
	lo := uint32(h)
	return uint32(h >> 32), lo - 1, lo != 0
}

// push links slot i onto the list rooted at head.
func (a *Arena[T]) push(head *atomix.Uint64, i uint32) {
	s := a.slot(i)
	for {
		old := head.LoadAcquire()
		tag, top, ok := unpackHead(old)
		if ok {
			s.next.Store(top)
		} else {
			s.next.Store(Nil)
		}
		if head.CompareAndSwap(old, packHead(tag+1, i)) {
			return
		}
	}
}

// pop unlinks the top slot of the list rooted at head. The link read from
// a slot that was concurrently popped and recycled is stale but harmless:
// the tag makes the CAS fail.
func (a *Arena[T]) pop(head *atomix.Uint64) (uint32, bool) {
	for {
		old := head.LoadAcquire()
		tag, top, ok := unpackHead(old)
		if !ok {
			return Nil, false
		}
		next := a.slot(top).next.Load()
		var h uint64
		if next != Nil {
			h = packHead(tag+1, next)
		} else {
			h = uint64(tag+1) << 32
		}
		if head.CompareAndSwap(old, h) {
			return top, true
		}
	}
}

// flush detaches the whole list rooted at head and returns its top index.
func (a *Arena[T]) flush(head *atomix.Uint64) uint32 {
	for {
		old := head.LoadAcquire()
		tag, top, ok := unpackHead(old)
		if !ok {
			return Nil
		}
		if head.CompareAndSwap(old, uint64(tag+1)<<32) {
			return top
		}
	}
}
