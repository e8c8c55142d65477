// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import "code.hybscloud.com/engine/vmem"

// classSizes lists object sizes in ascending order.
var classSizes = [...]uintptr{8, 16, 24, 32, 48, 64, 96, 128, 192, 256, 384, 512, 768, 1024}

const (
	// NumClasses is the number of size classes.
	NumClasses = len(classSizes)
	// MaxSmall is the largest size served from a size class.
	MaxSmall = 1024
)

// ClassFor returns the smallest size class holding size bytes, or -1 if
// size is above MaxSmall. Size zero maps to the smallest class.
func ClassFor(size uintptr) int {
	if size > MaxSmall {
		return -1
	}
	lo, hi := 0, NumClasses-1
	for lo < hi {
		pivot := (lo + hi) / 2
		if classSizes[pivot] < size {
			lo = pivot + 1
		} else {
			hi = pivot
		}
	}
	return lo
}

// ClassSize returns the object size of class cls.
func ClassSize(cls int) uintptr {
	return classSizes[cls]
}

// slotsPerBlock returns how many objects of class cls fit in one block.
func slotsPerBlock(cls int) int32 {
	return int32(vmem.BlockSize / classSizes[cls])
}

// blockLimit is the offset one past the last whole slot of a block.
func blockLimit(cls int) uint32 {
	return uint32(slotsPerBlock(cls)) * uint32(classSizes[cls])
}
