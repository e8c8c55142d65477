// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lockfree provides the synchronization primitives shared by the
// allocator and the scheduler.
//
// # Primitives
//
//   - [SpinLock]: test-and-test-and-set lock for short critical sections.
//   - [Semaphore]: counting semaphore that only parks goroutines when the
//     count goes negative.
//   - [Arena]: chunked slot storage addressed by uint32 index. Slots are
//     recycled through a lock-free free list and never returned to the Go
//     heap, so a concurrent pop may always read a stale link safely.
//   - [Stack]: ABA-tagged Treiber stack whose nodes live in an [Arena].
//
// # Memory Ordering
//
// All atomics are [code.hybscloud.com/atomix] values. The race detector
// cannot follow ordering established through index links, so concurrent
// stress tests skip under -race.
package lockfree
