// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"hash/crc32"
	"strconv"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/engine/memory"
	"code.hybscloud.com/engine/threadpool"
)

type sumResult struct {
	elements int
	elapsed  time.Duration
}

func (r sumResult) rate() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.elements) / r.elapsed.Seconds()
}

// sumTask splits data in halves until a piece fits in leaf elements, and
// adds the halves in a continuation.
func sumTask(data []int64, leaf int, out *int64) threadpool.Func {
	return func(w *threadpool.Worker) {
		if len(data) <= leaf {
			var s int64
			for _, v := range data {
				s += v
			}
			*out = s
			return
		}
		var left, right int64
		mid := len(data) / 2
		w.Spawn(sumTask(data[:mid], leaf, &left))
		w.Spawn(sumTask(data[mid:], leaf, &right))
		w.ContinueWith(func(*threadpool.Worker) { *out = left + right })
	}
}

func parallelSum(p *threadpool.Pool, cfg config) (sumResult, error) {
	data := make([]int64, cfg.Size)
	for i := range data {
		data[i] = 1
	}
	start := time.Now()
	for i := range cfg.Repeat {
		var total int64
		if err := p.SpawnAndWait(sumTask(data, cfg.Leaf, &total)); err != nil {
			return sumResult{}, errors.Wrapf(err, "corebench: sum round %d", i)
		}
		if total != int64(len(data)) {
			return sumResult{}, errors.Errorf("corebench: sum round %d: got %d, want %d", i, total, len(data))
		}
	}
	return sumResult{elements: cfg.Size * cfg.Repeat, elapsed: time.Since(start)}, nil
}

type completionResult struct {
	finished int64
	bytes    int64
	elapsed  time.Duration
}

// completions registers n children of one task that are finished by
// goroutines standing in for I/O. Each completion copies a payload through
// the allocator and hands its checksum to a continuation task.
func completions(p *threadpool.Pool, n int) (completionResult, error) {
	var (
		res   completionResult
		g     errgroup.Group
		bytes atomic.Int64
		done  atomic.Int64
	)
	start := time.Now()
	err := p.SpawnAndWait(func(w *threadpool.Worker) {
		for i := range n {
			h := w.AddChild()
			g.Go(func() error {
				payload := memory.CopyString("completion " + strconv.Itoa(i))
				sum := crc32.ChecksumIEEE(unsafe.Slice(unsafe.StringData(payload), len(payload)))
				bytes.Add(int64(len(payload)))
				memory.FreeString(payload)
				p.ChildFinished(h, func(w *threadpool.Worker) {
					if sum == 0 {
						w.Fail(errors.Errorf("corebench: empty checksum for completion %d", i))
						return
					}
					done.Add(1)
				})
				return nil
			})
		}
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	res.finished, res.bytes, res.elapsed = done.Load(), bytes.Load(), time.Since(start)
	return res, err
}
