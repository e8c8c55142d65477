// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memory is a tiered size-class allocator over a [vmem.Arena].
//
// Requests up to 1024 bytes are rounded up to one of fourteen size
// classes and served from 64 KiB blocks dedicated to that class. Larger
// requests, and every request made before [Init], go to the platform
// mapping layer ([vmem.Map]). [Free] takes only the pointer: arena
// membership is decided by address, and the size class of a pooled
// object is read from the side table entry of its block.
//
// # Caches
//
// Each [Cache] owns at most one block per class and allocates from it
// without synchronization: first from a private free list, then by
// bumping through never-used slots. Freeing into a block the cache owns
// is also unsynchronized. Freeing into any other block takes the class
// lock and goes onto that block's shared free list, which the owner
// claims when its private slots run out.
//
// When a cache lets go of a block (exhausted, or on [Cache.Release]) the
// block becomes unowned: with some free slots it joins the class's partial
// list for the next cache to claim, with none it is left alone until a
// free arrives, and once every slot is free it is decommitted and returned
// to the arena.
//
// A Cache is for one goroutine at a time. Scheduler workers hold one each;
// [Heap.Alloc] and the package-level functions borrow one from a pool.
// Caches dropped without Release hand their blocks back when collected.
//
// Memory returned by Alloc is not zeroed.
package memory
