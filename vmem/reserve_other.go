// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package vmem

import "github.com/pbnjay/memory"

// Without overcommit the reservation is real Go heap memory, so it is held
// to a quarter of physical memory.
func clampReservation(size uintptr) uintptr {
	total := memory.TotalMemory()
	if total == 0 {
		return size
	}
	limit := uintptr(total/4) &^ (BlockSize - 1)
	if limit >= BlockSize && size > limit {
		return limit
	}
	return size
}

func reserve(size uintptr) ([]byte, error) {
	return make([]byte, size), nil
}

func commit([]byte) error {
	return nil
}

// decommit zeroes b so a recycled block starts clean, as it does after
// MADV_DONTNEED on Linux.
func decommit(b []byte) error {
	clear(b)
	return nil
}

func release([]byte) error {
	return nil
}

func mapPages(size uintptr) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages([]byte) error {
	return nil
}
