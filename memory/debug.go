// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build debug

package memory

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/engine/internal/fatal"
)

const debugChecks = true

// poisonByte fills freed slots past the free-list link.
const poisonByte = 0xdd

func poison(p unsafe.Pointer, size uintptr) {
	b := unsafe.Slice((*byte)(p), size)
	for i := 4; i < len(b); i++ {
		b[i] = poisonByte
	}
}

// checkPoison catches writes through a dangling pointer into a free slot.
func checkPoison(p unsafe.Pointer, size uintptr) {
	b := unsafe.Slice((*byte)(p), size)
	for i := 4; i < len(b); i++ {
		if b[i] != poisonByte {
			fatal.Errorf("memory: free slot %p of class %d modified at byte %d", p, size, i)
		}
	}
}

// freeSlots holds the address of every pooled slot that is currently free
// and was handed out at least once.
var freeSlots struct {
	sync.Mutex
	m map[uintptr]struct{}
}

// trackFree records p as free and fails on a second free of the same slot.
func trackFree(p unsafe.Pointer) {
	freeSlots.Lock()
	defer freeSlots.Unlock()
	if _, ok := freeSlots.m[uintptr(p)]; ok {
		fatal.Errorf("memory: double free of %p", p)
	}
	if freeSlots.m == nil {
		freeSlots.m = make(map[uintptr]struct{})
	}
	freeSlots.m[uintptr(p)] = struct{}{}
}

// trackAlloc marks p as live again.
func trackAlloc(p unsafe.Pointer) {
	freeSlots.Lock()
	delete(freeSlots.m, uintptr(p))
	freeSlots.Unlock()
}
