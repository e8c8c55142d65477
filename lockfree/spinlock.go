// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lockfree

import (
	"runtime"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// activeSpin is the number of read-only probes before the lock backs off.
const activeSpin = 64

// SpinLock is a test-and-test-and-set lock with the same shape as sync.Mutex.
// The zero value is unlocked. Critical sections must be short and must not
// block; contended waiters spin on a plain load, then back off adaptively.
type SpinLock struct {
	state atomix.Uint32
}

// Lock acquires l, spinning until it is available.
func (l *SpinLock) Lock() {
	if l.state.CompareAndSwap(0, 1) {
		return
	}
	l.lockSlow()
}

func (l *SpinLock) lockSlow() {
	var bo iox.Backoff
	for {
		for i := 0; l.state.Load() != 0; i++ {
			if i < activeSpin {
				continue
			}
			if i == activeSpin {
				runtime.Gosched()
				continue
			}
			bo.Wait()
		}
		if l.state.CompareAndSwap(0, 1) {
			return
		}
	}
}

// TryLock acquires l without waiting and reports whether it succeeded.
func (l *SpinLock) TryLock() bool {
	return l.state.Load() == 0 && l.state.CompareAndSwap(0, 1)
}

// Unlock releases l with release ordering, so writes made while holding l
// are visible to the next goroutine that acquires it. Panics if l is not
// locked.
func (l *SpinLock) Unlock() {
	if l.state.Load() == 0 {
		panic("lockfree: unlock of unlocked SpinLock")
	}
	l.state.StoreRelease(0)
}
