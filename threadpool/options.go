// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"code.hybscloud.com/engine/memory"
)

// StealOrder selects where an idle worker starts looking for work to steal.
type StealOrder int

const (
	// StealRoundRobin starts at the last victim that had work and moves on
	// after a fruitless sweep.
	StealRoundRobin StealOrder = iota
	// StealLinear always sweeps workers from index zero.
	StealLinear
	// StealRandom starts each sweep at a random worker.
	StealRandom
)

func (o StealOrder) String() string {
	switch o {
	case StealRoundRobin:
		return "round-robin"
	case StealLinear:
		return "linear"
	case StealRandom:
		return "random"
	}
	return "unknown"
}

// ParseStealOrder maps a name from String back to its StealOrder.
func ParseStealOrder(s string) (StealOrder, error) {
	for _, o := range []StealOrder{StealRoundRobin, StealLinear, StealRandom} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, errors.Errorf("threadpool: unknown steal order %q", s)
}

const (
	defaultDequeCapacity   = 32
	defaultInboundCapacity = 1024
)

type poolOptions struct {
	heap       *memory.Heap
	logger     *logrus.Logger
	onError    func(error)
	stealOrder StealOrder
	dequeCap   int
	inboundCap int
}

// Option configures a Pool.
type Option interface {
	applyPool(*poolOptions) error
}

type optionFunc func(*poolOptions) error

func (f optionFunc) applyPool(o *poolOptions) error {
	return f(o)
}

// WithHeap sets the heap that backs worker queues. The default is the
// process-wide heap, initialized on demand.
func WithHeap(h *memory.Heap) Option {
	return optionFunc(func(o *poolOptions) error {
		o.heap = h
		return nil
	})
}

// WithLogger sets the logger for pool lifecycle events and unjoined errors.
func WithLogger(l *logrus.Logger) Option {
	return optionFunc(func(o *poolOptions) error {
		if l == nil {
			return errors.New("threadpool: nil logger")
		}
		o.logger = l
		return nil
	})
}

// WithErrorHandler sets the function called with errors of tasks that have
// no join point: tasks submitted with Pool.Spawn. The default logs them.
func WithErrorHandler(fn func(error)) Option {
	return optionFunc(func(o *poolOptions) error {
		o.onError = fn
		return nil
	})
}

// WithStealOrder sets the victim selection policy of idle workers.
func WithStealOrder(order StealOrder) Option {
	return optionFunc(func(o *poolOptions) error {
		if order < StealRoundRobin || order > StealRandom {
			return errors.Errorf("threadpool: invalid steal order %d", order)
		}
		o.stealOrder = order
		return nil
	})
}

// WithDequeCapacity sets the initial per-worker queue length.
func WithDequeCapacity(n int) Option {
	return optionFunc(func(o *poolOptions) error {
		if n < 4 {
			return errors.Errorf("threadpool: deque capacity %d below 4", n)
		}
		o.dequeCap = n
		return nil
	})
}

// WithInboundCapacity sets the lock-free lane length of the shared inbound
// queue. It is rounded up to a power of two.
func WithInboundCapacity(n int) Option {
	return optionFunc(func(o *poolOptions) error {
		if n < 2 {
			return errors.Errorf("threadpool: inbound capacity %d below 2", n)
		}
		o.inboundCap = n
		return nil
	})
}

func resolveOptions(opts []Option) (*poolOptions, error) {
	cfg := &poolOptions{
		logger:     logrus.StandardLogger(),
		stealOrder: StealRoundRobin,
		dequeCap:   defaultDequeCapacity,
		inboundCap: defaultInboundCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
