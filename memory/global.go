// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/engine/vmem"
)

var (
	initMu      sync.Mutex
	defaultHeap atomic.Pointer[Heap]
)

// Init creates the process-wide heap used by Alloc and Free. Later calls
// return the existing heap and ignore opts.
func Init(opts ...Option) (*Heap, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if h := defaultHeap.Load(); h != nil {
		return h, nil
	}
	h, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defaultHeap.Store(h)
	h.log.WithField("classes", NumClasses).Info("memory: allocator initialized")
	return h, nil
}

// Default returns the heap created by Init, or nil before Init.
func Default() *Heap {
	return defaultHeap.Load()
}

// Alloc returns size bytes from the process-wide heap. Before Init, and
// for sizes above MaxSmall, the request is mapped directly. Out of memory
// is fatal.
func Alloc(size uintptr) unsafe.Pointer {
	if h := defaultHeap.Load(); h != nil {
		return h.Alloc(size)
	}
	return vmem.Map(size)
}

// Free releases memory returned by Alloc or CopyString, whether it was
// pooled or mapped. Freeing nil is a no-op.
func Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if h := defaultHeap.Load(); h != nil {
		h.Free(p)
		return
	}
	vmem.Unmap(p)
}

// SizeOf returns the usable size of the allocation at p.
func SizeOf(p unsafe.Pointer) uintptr {
	if h := defaultHeap.Load(); h != nil {
		return h.SizeOf(p)
	}
	n, _ := vmem.MappedSize(p)
	return n
}
