// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vmem

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/atomix"
	"github.com/pkg/errors"

	"code.hybscloud.com/engine/internal/fatal"
	"code.hybscloud.com/engine/lockfree"
)

const (
	// BlockShift is log2 of BlockSize.
	BlockShift = 16
	// BlockSize is the size and alignment of an arena block.
	BlockSize = 1 << BlockShift
	// DefaultArenaSize is the reservation used when none is configured.
	DefaultArenaSize = 512 << 20
)

var (
	// ErrExhausted reports that every block of the arena is in use.
	ErrExhausted = errors.New("vmem: arena exhausted")
	// ErrNotBlock reports a pointer that is not the start of an arena block.
	ErrNotBlock = errors.New("vmem: not a block pointer")
	// ErrNotMapped reports a pointer unknown to the mapping registry.
	ErrNotMapped = errors.New("vmem: pointer not mapped")
)

// Arena is a reserved address range carved into BlockSize blocks.
// All methods are safe for concurrent use.
type Arena struct {
	region []byte
	base   uintptr
	size   uintptr

	mu     lockfree.SpinLock
	bitmap []uint64
	cursor int

	inUse atomix.Int64
}

// New reserves an arena of size bytes, rounded up to a whole number of
// blocks. The base is BlockSize-aligned. No memory is committed.
func New(size uintptr) (*Arena, error) {
	if size == 0 {
		size = DefaultArenaSize
	}
	size = (size + BlockSize - 1) &^ (BlockSize - 1)
	size = clampReservation(size)

	region, err := reserve(size + BlockSize)
	if err != nil {
		return nil, errors.Wrapf(err, "vmem: reserve %d bytes", size)
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(region)))
	base := (start + BlockSize - 1) &^ (BlockSize - 1)
	nblocks := int(size >> BlockShift)
	a := &Arena{
		region: region,
		base:   base,
		size:   size,
		bitmap: make([]uint64, (nblocks+63)/64),
	}
	// Bits past the last block stay permanently set.
	if tail := nblocks % 64; tail != 0 {
		a.bitmap[len(a.bitmap)-1] = ^uint64(0) << tail
	}
	return a, nil
}

// AllocBlock claims a free block, commits it and returns its address.
// Exhaustion and commit failure are fatal.
func (a *Arena) AllocBlock() unsafe.Pointer {
	p, err := a.TryAllocBlock()
	fatal.Check(err, "vmem: allocate block")
	return p
}

// TryAllocBlock is AllocBlock returning ErrExhausted instead of failing
// fatally when no block is free.
func (a *Arena) TryAllocBlock() (unsafe.Pointer, error) {
	idx := -1
	a.mu.Lock()
	for ; a.cursor < len(a.bitmap); a.cursor++ {
		w := a.bitmap[a.cursor]
		if w == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^w)
		a.bitmap[a.cursor] = w | 1<<bit
		idx = a.cursor*64 + bit
		break
	}
	a.mu.Unlock()
	if idx < 0 {
		return nil, ErrExhausted
	}
	b := a.blockBytes(idx)
	if err := commit(b); err != nil {
		a.release(idx)
		return nil, errors.Wrapf(err, "vmem: commit block %d", idx)
	}
	a.inUse.Add(1)
	return unsafe.Pointer(unsafe.SliceData(b)), nil
}

// FreeBlock decommits the block at p and returns it to the arena.
// p must have been returned by AllocBlock; anything else is fatal.
func (a *Arena) FreeBlock(p unsafe.Pointer) {
	idx, err := a.blockIndex(p)
	fatal.Check(err, "vmem: free block")
	fatal.Check(decommit(a.blockBytes(idx)), "vmem: decommit block")
	a.inUse.Add(-1)
	a.release(idx)
}

func (a *Arena) release(idx int) {
	w, bit := idx/64, uint(idx%64)
	a.mu.Lock()
	if a.bitmap[w]&(1<<bit) == 0 {
		a.mu.Unlock()
		fatal.Errorf("vmem: double free of block %d", idx)
	}
	a.bitmap[w] &^= 1 << bit
	a.cursor = min(a.cursor, w)
	a.mu.Unlock()
}

// IsBlockPtr reports whether p lies inside the arena's address range.
func (a *Arena) IsBlockPtr(p unsafe.Pointer) bool {
	u := uintptr(p)
	return u >= a.base && u < a.base+a.size
}

// BlockOf returns the index of the block containing p.
// p must satisfy IsBlockPtr.
func (a *Arena) BlockOf(p unsafe.Pointer) int {
	return int((uintptr(p) - a.base) >> BlockShift)
}

// Block returns the address of block idx.
func (a *Arena) Block(idx int) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(a.blockBytes(idx)))
}

// Blocks returns the number of blocks the arena can hold.
func (a *Arena) Blocks() int {
	return int(a.size >> BlockShift)
}

// InUse returns the number of committed blocks.
func (a *Arena) InUse() int {
	return int(a.inUse.Load())
}

// Size returns the reserved size in bytes, excluding alignment slack.
func (a *Arena) Size() uintptr {
	return a.size
}

// Close releases the reservation. Every pointer into the arena becomes
// invalid; callers must ensure none is in use.
func (a *Arena) Close() error {
	a.mu.Lock()
	region := a.region
	a.region = nil
	a.mu.Unlock()
	if region == nil {
		return nil
	}
	return errors.Wrap(release(region), "vmem: release arena")
}

func (a *Arena) blockIndex(p unsafe.Pointer) (int, error) {
	if !a.IsBlockPtr(p) || (uintptr(p)-a.base)&(BlockSize-1) != 0 {
		return 0, errors.Wrapf(ErrNotBlock, "%p", p)
	}
	return a.BlockOf(p), nil
}

// blockBytes returns block idx as a slice of the reservation.
func (a *Arena) blockBytes(idx int) []byte {
	off := a.base - uintptr(unsafe.Pointer(unsafe.SliceData(a.region))) + uintptr(idx)<<BlockShift
	return a.region[off : off+BlockSize : off+BlockSize]
}
