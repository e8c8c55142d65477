// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package vmem manages virtual memory for the allocator.
//
// # Block Arena
//
// An [Arena] reserves one large address range up front (512 MiB by
// default) without committing it, and hands it out in [BlockSize] blocks.
// A bitset with one bit per block records which blocks are in use; a
// cursor remembers the first word that may hold a clear bit so that
// allocation does not rescan the full words below it. Blocks are committed
// on [Arena.AllocBlock] and decommitted on [Arena.FreeBlock]. Whether a
// pointer belongs to the arena is decided by address range alone
// ([Arena.IsBlockPtr]).
//
// # Platform Mappings
//
// [Map] and [Unmap] serve allocations the arena does not: large objects and
// requests made before the allocator is initialized. A registry keyed by
// address remembers each mapping's length so that [Unmap] needs only the
// pointer.
//
// On Linux both are backed by anonymous mmap through
// [golang.org/x/sys/unix]; elsewhere they fall back to the Go heap.
package vmem
