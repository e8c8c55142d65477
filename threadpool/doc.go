// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package threadpool is a work-stealing task scheduler.
//
// A [Pool] has a fixed number of workers. Each worker owns a double-ended
// queue of task indices: it pushes and pops at the tail, while idle
// workers steal from the head. Tasks submitted from outside the pool go to
// a shared inbound queue. Queue buffers come from the [memory] allocator.
//
// Tasks form a tree. A task is complete when its body has returned and all
// of its children are complete. Unless the body registered a continuation
// with [Worker.ContinueWith], the worker joins the children right after
// the body returns, running other tasks meanwhile. A continuation is run
// by the same task once its children are done, without holding a stack.
//
// Errors recorded with [Worker.Fail], and panics recovered as
// [PanicError], travel up the tree and are returned by the nearest
// [Worker.WaitForAll] or SpawnAndWait.
//
// [Fork] and [Join] expose the same model as effects of
// [code.hybscloud.com/kont] programs run by [Exec].
package threadpool
