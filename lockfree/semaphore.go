// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lockfree

import (
	"context"
	"math"

	"code.hybscloud.com/atomix"
	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore that stays on atomics while the count
// is positive. Only a waiter that drives the count below zero parks, and
// only a post that observes a negative count wakes one.
type Semaphore struct {
	count atomix.Int64
	park  *semaphore.Weighted
}

// NewSemaphore returns a semaphore holding initial permits.
func NewSemaphore(initial int) *Semaphore {
	s := &Semaphore{park: semaphore.NewWeighted(math.MaxInt64)}
	// The parking lot starts fully held; every slow-path Post releases one
	// unit to exactly one slow-path Wait.
	_ = s.park.Acquire(context.Background(), math.MaxInt64)
	s.count.Store(int64(initial))
	return s
}

// Wait takes one permit, parking the goroutine if none is available.
func (s *Semaphore) Wait() {
	if s.count.Add(-1) >= 0 {
		return
	}
	_ = s.park.Acquire(context.Background(), 1)
}

// TryWait takes one permit without parking and reports whether it succeeded.
func (s *Semaphore) TryWait() bool {
	for {
		n := s.count.Load()
		if n <= 0 {
			return false
		}
		if s.count.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Post returns n permits, waking up to n parked waiters.
func (s *Semaphore) Post(n int) {
	if n <= 0 {
		return
	}
	prev := s.count.Add(int64(n)) - int64(n)
	if prev >= 0 {
		return
	}
	s.park.Release(min(int64(n), -prev))
}

// Count returns a snapshot of the permit count. Negative values are the
// number of parked or parking waiters.
func (s *Semaphore) Count() int {
	return int(s.count.Load())
}
