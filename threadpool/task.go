// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"fmt"

	"code.hybscloud.com/atomix"
	"go.uber.org/multierr"

	"code.hybscloud.com/engine/lockfree"
)

// Func is the body of a task. w is the worker running it and is the only
// handle through which the body may spawn, join or continue.
type Func func(w *Worker)

// task is a unit of schedulable work.
//
// refs counts the task itself while it runs plus one per outstanding
// child. A child's completion happens-before its parent observes the
// decremented count.
type task struct {
	fn     Func
	parent *task
	refs   atomix.Int32
	idx    uint32

	// sem is set only on sentinels of goroutines blocked outside the pool.
	sem *lockfree.Semaphore

	mu  lockfree.SpinLock
	err error
}

func (t *task) addErr(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.err = multierr.Append(t.err, err)
	t.mu.Unlock()
}

func (t *task) takeErr() error {
	t.mu.Lock()
	err := t.err
	t.err = nil
	t.mu.Unlock()
	return err
}

// Handle is an outstanding child reference held by code outside the task
// tree, such as an I/O completion callback. It is obtained from
// Worker.AddChild and must be finished exactly once.
type Handle struct {
	t *task
}

// Valid reports whether h refers to a task.
func (h Handle) Valid() bool {
	return h.t != nil
}

// Fail records err on the parent task. It must be called before the
// handle is finished.
func (h Handle) Fail(err error) {
	h.t.addErr(err)
}

// PanicError is the error recorded when a task body panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("threadpool: task panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
