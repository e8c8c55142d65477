// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"code.hybscloud.com/kont"
)

// Fork is the effect operation for spawning Fn as a child of the task
// running the program.
type Fork struct {
	kont.Phantom[struct{}]
	Fn Func
}

// Join is the effect operation for waiting on every child forked so far.
// The program is suspended and resumed as the task's continuation, so no
// worker stack is held while children run.
//
// With Propagate set, child errors stay on the task and reach the next
// join above it; otherwise they are handed to the program in JoinResult.
type Join struct {
	kont.Phantom[JoinResult]
	Propagate bool
}

// JoinResult is the value a Join resumes with.
type JoinResult struct {
	Err error
}

// ForkThen forks fn and then continues with next.
// Fuses Perform(Fork{Fn: fn}) + Then.
func ForkThen[B any](fn Func, next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Fork{Fn: fn}), next)
}

// JoinBind waits for the forked children and passes their errors to f.
// Fuses Perform(Join{}) + Bind.
func JoinBind[B any](f func(JoinResult) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Join{}), f)
}

// JoinThen waits for the forked children and continues with next. Their
// errors propagate past the program.
func JoinThen[B any](next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Join{Propagate: true}), next)
}

// Exec runs a fork-join program as the body of the task running on w.
// done, if not nil, receives the result on whichever worker finishes the
// program. Exec must be the last thing the task body does.
func Exec[R any](w *Worker, program kont.Eff[R], done func(*Worker, R)) {
	ExecExpr(w, kont.Reify(program), done)
}

// ExecExpr is Exec for Expr-world programs.
func ExecExpr[R any](w *Worker, program kont.Expr[R], done func(*Worker, R)) {
	result, susp := kont.StepExpr(program)
	advance(w, result, susp, done)
}

// Run submits program to p as a new task tree and waits for its result.
func Run[R any](p *Pool, program kont.Eff[R]) (R, error) {
	var out R
	err := p.SpawnAndWait(func(w *Worker) {
		Exec(w, program, func(_ *Worker, r R) { out = r })
	})
	return out, err
}

// advance dispatches suspensions until the program completes or joins.
func advance[R any](w *Worker, result R, susp *kont.Suspension[R], done func(*Worker, R)) {
	for susp != nil {
		switch op := susp.Op().(type) {
		case Fork:
			w.Spawn(op.Fn)
			result, susp = susp.Resume(struct{}{})
		case Join:
			pending := susp
			w.ContinueWith(func(w *Worker) {
				var v JoinResult
				err := w.current.takeErr()
				if op.Propagate {
					w.current.addErr(err)
				} else {
					v.Err = err
				}
				r, next := pending.Resume(v)
				advance(w, r, next, done)
			})
			return
		default:
			panic("threadpool: unhandled effect in Exec")
		}
	}
	if done != nil {
		done(w, result)
	}
}
