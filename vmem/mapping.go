// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vmem

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/atomix"
	"github.com/pkg/errors"

	"code.hybscloud.com/engine/internal/fatal"
)

// mappings records every live Map result by base address. The slices also
// keep heap-backed mappings reachable on platforms without mmap.
var mappings = struct {
	sync.Mutex
	m     map[uintptr][]byte
	bytes atomix.Int64
}{m: make(map[uintptr][]byte)}

// Map returns size bytes of zeroed, page-aligned memory outside any arena
// and registers it for Unmap. Failure is fatal.
func Map(size uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	b, err := mapPages(size)
	fatal.Check(err, "vmem: map")
	p := unsafe.Pointer(unsafe.SliceData(b))
	mappings.Lock()
	mappings.m[uintptr(p)] = b
	mappings.Unlock()
	mappings.bytes.Add(int64(len(b)))
	return p
}

// Unmap releases a mapping made by Map and returns its length.
// Unmapping an unknown pointer is fatal.
func Unmap(p unsafe.Pointer) uintptr {
	mappings.Lock()
	b, ok := mappings.m[uintptr(p)]
	delete(mappings.m, uintptr(p))
	mappings.Unlock()
	if !ok {
		fatal.Check(errors.Wrapf(ErrNotMapped, "%p", p), "vmem: unmap")
	}
	mappings.bytes.Add(-int64(len(b)))
	fatal.Check(unmapPages(b), "vmem: unmap")
	return uintptr(len(b))
}

// MappedSize returns the length of the mapping starting at p.
func MappedSize(p unsafe.Pointer) (uintptr, bool) {
	mappings.Lock()
	b, ok := mappings.m[uintptr(p)]
	mappings.Unlock()
	return uintptr(len(b)), ok
}

// MappedBytes returns the total length of live mappings.
func MappedBytes() int64 {
	return mappings.bytes.Load()
}
