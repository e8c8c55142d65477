// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"math/rand/v2"
	"runtime/debug"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"code.hybscloud.com/engine/internal/fatal"
	"code.hybscloud.com/engine/memory"
)

// Worker is one scheduling slot of a Pool. Task bodies receive the worker
// running them and use it to spawn children, join, or register a
// continuation. A Worker must only be used from the task body it was
// passed to.
type Worker struct {
	pool  *Pool
	id    int
	dq    deque
	cache *memory.Cache

	// current is the task whose body is on this goroutine's stack; cont is
	// the continuation it registered.
	current *task
	cont    Func

	bo     iox.Backoff
	rng    *rand.Rand
	victim int

	executed atomix.Uint64
	stolen   atomix.Uint64
}

func newWorker(p *Pool, id int, dequeCap int) *Worker {
	w := &Worker{
		pool:   p,
		id:     id,
		cache:  p.heap.NewCache(),
		rng:    rand.New(rand.NewPCG(uint64(id), 0x9e3779b97f4a7c15)),
		victim: (id + 1) % p.size,
	}
	w.dq.init(w.cache, dequeCap)
	return w
}

// ID returns the worker index in [0, Pool.Size()). Worker 0 is the slot
// driven by goroutines calling Pool.SpawnAndWait.
func (w *Worker) ID() int {
	return w.id
}

// Pool returns the pool w belongs to.
func (w *Worker) Pool() *Pool {
	return w.pool
}

// Cache returns the allocation cache owned by w. It may be used by task
// bodies running on w and must not be retained past the body.
func (w *Worker) Cache() *memory.Cache {
	return w.cache
}

// Spawn schedules fn as a child of the running task. The child is pushed
// onto w's own queue, where w finds it first and idle workers may steal it.
func (w *Worker) Spawn(fn Func) {
	if fn == nil {
		panic("threadpool: nil task function")
	}
	parent := w.current
	if parent != nil {
		parent.refs.Add(1)
	}
	t := w.pool.newTask(fn, parent)
	w.pool.spawned.Add(1)
	w.dq.push(t.idx)
}

// ContinueWith replaces the body of the running task with fn. Instead of
// joining its children when the body returns, the task is rescheduled to
// run fn once they have all finished. Later calls override earlier ones.
func (w *Worker) ContinueWith(fn Func) {
	if w.current == nil {
		panic("threadpool: ContinueWith outside a task")
	}
	w.cont = fn
}

// WaitForAll runs other tasks until every child of the running task has
// finished, then returns the errors they left behind.
func (w *Worker) WaitForAll() error {
	t := w.current
	if t == nil {
		return nil
	}
	for t.refs.LoadAcquire() > 1 {
		w.Yield()
	}
	return t.takeErr()
}

// SpawnAndWait runs fn as a new task tree and waits for it while helping
// with other work. It returns the errors of the tree.
func (w *Worker) SpawnAndWait(fn Func) error {
	if fn == nil {
		panic("threadpool: nil task function")
	}
	p := w.pool
	s := p.newTask(nil, nil)
	s.refs.Store(2)
	child := p.newTask(fn, s)
	p.spawned.Add(1)
	w.dq.push(child.idx)
	for s.refs.LoadAcquire() > 1 {
		w.Yield()
	}
	err := s.takeErr()
	p.freeTask(s)
	return err
}

// AddChild registers an outstanding child of the running task that is
// finished elsewhere, typically by an I/O completion. The task cannot
// complete until Pool.ChildFinished is called with the returned handle.
func (w *Worker) AddChild() Handle {
	t := w.current
	if t == nil {
		panic("threadpool: AddChild outside a task")
	}
	t.refs.Add(1)
	return Handle{t: t}
}

// ChildFinished is Pool.ChildFinished for callers running on w. A
// continuation is pushed onto w's own queue.
func (w *Worker) ChildFinished(h Handle, cont Func) {
	w.pool.childFinished(h, cont, w)
}

// Fail records err on the running task. It is delivered to the nearest
// join above the task together with the errors of its siblings.
func (w *Worker) Fail(err error) {
	if w.current == nil {
		panic("threadpool: Fail outside a task")
	}
	w.current.addErr(err)
}

// Yield runs at most one task: the newest from w's own queue, else the
// oldest submitted from outside, else the oldest of another worker. It
// reports whether a task ran; when none was found it backs off first.
func (w *Worker) Yield() bool {
	idx, ok := w.dq.pop()
	if !ok {
		var err error
		idx, err = w.pool.inbound.pop()
		ok = err == nil
	}
	if !ok {
		idx, ok = w.steal()
	}
	if !ok {
		w.bo.Wait()
		return false
	}
	w.bo.Reset()
	w.run(idx)
	return true
}

func (w *Worker) steal() (uint32, bool) {
	ws := w.pool.workers
	n := len(ws)
	if n < 2 {
		return 0, false
	}
	var start int
	switch w.pool.stealOrder {
	case StealLinear:
		start = 0
	case StealRandom:
		start = w.rng.IntN(n)
	default:
		start = w.victim
	}
	for i := range n {
		v := (start + i) % n
		if v == w.id || ws[v].dq.size() == 0 {
			continue
		}
		if idx, ok := ws[v].dq.steal(); ok {
			w.victim = v
			w.stolen.Add(1)
			return idx, true
		}
	}
	if w.victim = (w.victim + 1) % n; w.victim == w.id {
		w.victim = (w.victim + 1) % n
	}
	return 0, false
}

// run executes the task at idx on w.
func (w *Worker) run(idx uint32) {
	p := w.pool
	t := p.tasks.At(idx)
	prev, prevCont := w.current, w.cont
	w.current, w.cont = t, nil
	t.refs.Store(1)

	fn := t.fn
	t.fn = nil
	if !w.invoke(t, fn) {
		// A panicking body loses its continuation.
		w.cont = nil
	}
	w.executed.Add(1)

	if cont := w.cont; cont != nil {
		t.fn = cont
		w.current, w.cont = prev, prevCont
		if t.refs.Add(-1) == 0 {
			w.dq.push(idx)
		}
		return
	}
	for t.refs.LoadAcquire() > 1 {
		w.Yield()
	}
	w.current, w.cont = prev, prevCont
	p.complete(t, w)
}

// invoke runs fn and turns a panic into a PanicError on t. Fatal failures
// keep unwinding.
func (w *Worker) invoke(t *task, fn Func) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if fatal.Is(r) {
				panic(r)
			}
			t.addErr(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	fn(w)
	return true
}

// loop is the body of dedicated worker goroutines.
func (w *Worker) loop() {
	p := w.pool
	defer p.wg.Done()
	p.log.WithField("worker", w.id).Debug("threadpool: worker started")
	for {
		if w.Yield() {
			continue
		}
		if p.closed.LoadAcquire() != 0 && p.tasks.Len() == 0 {
			break
		}
	}
	p.log.WithField("worker", w.id).Debug("threadpool: worker exited")
}

// drain runs whatever is left on w's own queue. In a pool without
// dedicated workers nobody else would pick up submitted tasks, so the
// inbound queue is drained as well.
func (w *Worker) drain() {
	for {
		idx, ok := w.dq.pop()
		if !ok && w.pool.size == 1 {
			var err error
			idx, err = w.pool.inbound.pop()
			ok = err == nil
		}
		if !ok {
			return
		}
		w.run(idx)
	}
}
