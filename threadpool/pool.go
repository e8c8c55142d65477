// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"code.hybscloud.com/engine/lockfree"
	"code.hybscloud.com/engine/memory"
)

// ErrClosed is returned for work submitted to a closed pool.
var ErrClosed = errors.New("threadpool: pool closed")

// Pool is a fixed set of workers that run tasks with work stealing.
//
// Worker 0 has no goroutine of its own. It is driven by whichever
// goroutine calls SpawnAndWait first, so a pool of size one runs all work
// on the caller. Workers 1 to Size()-1 each run a dedicated goroutine.
type Pool struct {
	tasks   lockfree.Arena[task]
	workers []*Worker
	size    int
	inbound inbound

	// master is 1 while a goroutine drives worker 0.
	master atomix.Uint32
	closed atomix.Uint32
	wg     sync.WaitGroup

	heap       *memory.Heap
	log        *logrus.Logger
	onError    func(error)
	stealOrder StealOrder

	spawned  atomix.Uint64
	orphaned atomix.Uint64
}

// New starts a pool of n workers. n below one is treated as one.
func New(n int, opts ...Option) (*Pool, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.heap == nil {
		cfg.heap, err = memory.Init()
		if err != nil {
			return nil, errors.Wrap(err, "threadpool: initialize allocator")
		}
	}
	n = max(n, 1)
	p := &Pool{
		size:       n,
		heap:       cfg.heap,
		log:        cfg.logger,
		onError:    cfg.onError,
		stealOrder: cfg.stealOrder,
	}
	if p.onError == nil {
		p.onError = func(err error) {
			p.log.WithError(err).Error("threadpool: unjoined task failed")
		}
	}
	p.inbound.init(p.heap, cfg.inboundCap, cfg.inboundCap)
	p.workers = make([]*Worker, n)
	for i := range p.workers {
		p.workers[i] = newWorker(p, i, cfg.dequeCap)
	}
	p.wg.Add(n - 1)
	for _, w := range p.workers[1:] {
		go w.loop()
	}
	p.log.WithFields(logrus.Fields{
		"workers":     n,
		"steal_order": p.stealOrder.String(),
	}).Info("threadpool: pool started")
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Spawn submits fn as a root task from any goroutine. Its errors have no
// join point and go to the pool's error handler. In a pool of size one the
// task runs the next time a goroutine drives worker 0, or at Close.
func (p *Pool) Spawn(fn Func) error {
	if fn == nil {
		panic("threadpool: nil task function")
	}
	t := p.newTask(fn, nil)
	if p.closed.Load() != 0 {
		p.freeTask(t)
		return ErrClosed
	}
	p.spawned.Add(1)
	p.inbound.push(t.idx)
	return nil
}

// SpawnAndWait runs fn as a new task tree and blocks until the tree has
// finished, returning its errors. If no other goroutine is driving worker
// 0 the caller takes it over and runs tasks itself; otherwise the caller
// sleeps until a worker finishes the tree. Task bodies should use
// Worker.SpawnAndWait, which keeps their worker busy while waiting.
func (p *Pool) SpawnAndWait(fn Func) error {
	if fn == nil {
		panic("threadpool: nil task function")
	}
	if p.master.CompareAndSwap(0, 1) {
		defer p.master.StoreRelease(0)
		if p.closed.Load() != 0 {
			return ErrClosed
		}
		w := p.workers[0]
		err := w.SpawnAndWait(fn)
		w.drain()
		return err
	}

	s := p.newTask(nil, nil)
	if p.closed.Load() != 0 {
		p.freeTask(s)
		return ErrClosed
	}
	if p.size > 1 {
		s.sem = lockfree.NewSemaphore(0)
	}
	s.refs.Store(2)
	child := p.newTask(fn, s)
	p.spawned.Add(1)
	p.inbound.push(child.idx)

	if s.sem != nil {
		s.sem.Wait()
	} else {
		p.helpUntil(s)
	}
	err := s.takeErr()
	p.freeTask(s)
	return err
}

// helpUntil drives worker 0 whenever it is free until s has no children.
func (p *Pool) helpUntil(s *task) {
	var bo iox.Backoff
	for s.refs.LoadAcquire() > 1 {
		if !p.master.CompareAndSwap(0, 1) {
			bo.Wait()
			continue
		}
		bo.Reset()
		w := p.workers[0]
		for s.refs.LoadAcquire() > 1 && w.Yield() {
		}
		w.drain()
		p.master.StoreRelease(0)
	}
}

// ChildFinished releases a handle from Worker.AddChild. It may be called
// from any goroutine, exactly once per handle. If cont is not nil it is
// scheduled as a task that takes over the handle's place among the
// parent's children.
func (p *Pool) ChildFinished(h Handle, cont Func) {
	p.childFinished(h, cont, nil)
}

func (p *Pool) childFinished(h Handle, cont Func, w *Worker) {
	if h.t == nil {
		panic("threadpool: finish of invalid Handle")
	}
	if cont == nil {
		p.releaseRef(h.t, w)
		return
	}
	t := p.newTask(cont, h.t)
	p.spawned.Add(1)
	p.schedule(t, w)
}

// Close waits for every submitted task to finish, including children
// still held through handles, then stops the workers and frees their
// queues. Close returns ErrClosed if the pool was already closed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(0, 1) {
		return ErrClosed
	}
	var bo iox.Backoff
	for !p.master.CompareAndSwap(0, 1) {
		bo.Wait()
	}
	w0 := p.workers[0]
	for p.tasks.Len() > 0 {
		w0.Yield()
	}
	p.wg.Wait()

	for _, w := range p.workers {
		w.dq.release()
		w.cache.Release()
	}
	p.inbound.release()
	p.log.WithField("tasks", p.spawned.Load()).Info("threadpool: pool stopped")
	return nil
}

func (p *Pool) newTask(fn Func, parent *task) *task {
	idx, t := p.tasks.Alloc()
	t.fn = fn
	t.parent = parent
	t.idx = idx
	t.sem = nil
	t.err = nil
	t.refs.Store(1)
	return t
}

func (p *Pool) freeTask(t *task) {
	t.fn = nil
	t.parent = nil
	t.sem = nil
	p.tasks.Free(t.idx)
}

// complete retires t after its body and all of its children have
// finished, handing its errors to the parent.
func (p *Pool) complete(t *task, w *Worker) {
	err := t.takeErr()
	parent := t.parent
	p.freeTask(t)
	if parent == nil {
		if err != nil {
			p.orphaned.Add(1)
			p.onError(err)
		}
		return
	}
	parent.addErr(err)
	p.releaseRef(parent, w)
}

// releaseRef drops one child reference of t. The last reference of a task
// with a continuation reschedules it; a sentinel with a waiter is posted
// when only its own reference remains.
func (p *Pool) releaseRef(t *task, w *Worker) {
	// The waiter may free t as soon as the count drops.
	sem := t.sem
	switch t.refs.Add(-1) {
	case 0:
		p.schedule(t, w)
	case 1:
		if sem != nil {
			sem.Post(1)
		}
	}
}

func (p *Pool) schedule(t *task, w *Worker) {
	if w != nil {
		w.dq.push(t.idx)
		return
	}
	p.inbound.push(t.idx)
}
