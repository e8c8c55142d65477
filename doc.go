// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine is the concurrency and memory core of a game engine
// runtime: a work-stealing task scheduler over a tiered size-class
// allocator, built on a small set of lock-free primitives.
//
// # Architecture
//
//   - [code.hybscloud.com/engine/lockfree]: SpinLock, Semaphore, index-addressed Arena and ABA-tagged Stack.
//   - [code.hybscloud.com/engine/vmem]: reserved address range committed in 64 KiB blocks, plus direct platform mappings.
//   - [code.hybscloud.com/engine/memory]: fourteen size classes up to 1024 bytes served from per-owner block caches; larger requests are mapped.
//   - [code.hybscloud.com/engine/threadpool]: task trees with reference-counted joins, continuations, external children and work stealing.
//
// # Integration
//
//   - Allocation: [code.hybscloud.com/engine/memory.Init] once, then Alloc/Free/CopyString/FreeString from any goroutine.
//   - Scheduling: [code.hybscloud.com/engine/threadpool.New] with the thread count; the calling goroutine becomes worker 0 inside SpawnAndWait.
//   - Effects: Fork and Join operations of [code.hybscloud.com/kont] programs run as tasks via threadpool.Exec.
//   - Observability: both packages export Prometheus collectors and log through logrus.
//
// # Example
//
//	pool, _ := threadpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//	_ = pool.SpawnAndWait(func(w *threadpool.Worker) {
//		for i := range 4 {
//			w.Spawn(func(*threadpool.Worker) { process(i) })
//		}
//	})
package engine
