// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"code.hybscloud.com/engine/vmem"
)

type heapOptions struct {
	arenaSize uintptr
	logger    *logrus.Logger
}

// Option configures a Heap.
type Option interface {
	applyHeap(*heapOptions) error
}

type optionFunc func(*heapOptions) error

func (f optionFunc) applyHeap(o *heapOptions) error {
	return f(o)
}

// WithArenaSize sets the virtual reservation backing the size classes.
// The size is rounded up to whole blocks; at least one block is required.
func WithArenaSize(size uintptr) Option {
	return optionFunc(func(o *heapOptions) error {
		if size < vmem.BlockSize {
			return errors.Errorf("memory: arena size %d smaller than one block", size)
		}
		o.arenaSize = size
		return nil
	})
}

// WithLogger sets the logger for heap lifecycle events.
func WithLogger(l *logrus.Logger) Option {
	return optionFunc(func(o *heapOptions) error {
		if l == nil {
			return errors.New("memory: nil logger")
		}
		o.logger = l
		return nil
	})
}

func resolveOptions(opts []Option) (*heapOptions, error) {
	cfg := &heapOptions{
		arenaSize: vmem.DefaultArenaSize,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyHeap(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
