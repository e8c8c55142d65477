// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"sync"
	"sync/atomic"
)

var (
	initMu      sync.Mutex
	defaultPool atomic.Pointer[Pool]
)

// Init starts the process-wide pool with n workers. Later calls return
// the existing pool and ignore their arguments.
func Init(n int, opts ...Option) (*Pool, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if p := defaultPool.Load(); p != nil {
		return p, nil
	}
	p, err := New(n, opts...)
	if err != nil {
		return nil, err
	}
	defaultPool.Store(p)
	return p, nil
}

// Default returns the pool started by Init, or nil before Init.
func Default() *Pool {
	return defaultPool.Load()
}

func mustDefault() *Pool {
	p := defaultPool.Load()
	if p == nil {
		panic("threadpool: Init has not been called")
	}
	return p
}

// Spawn submits fn to the process-wide pool.
func Spawn(fn Func) error {
	return mustDefault().Spawn(fn)
}

// SpawnAndWait runs fn on the process-wide pool and waits for it.
func SpawnAndWait(fn Func) error {
	return mustDefault().SpawnAndWait(fn)
}

// ChildFinished releases h on the process-wide pool.
func ChildFinished(h Handle, cont Func) {
	mustDefault().ChildFinished(h, cont)
}
