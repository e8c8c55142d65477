// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package vmem

import "golang.org/x/sys/unix"

// reserve maps an inaccessible, unbacked range of size bytes.
func reserve(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
}

// commit makes b readable and writable. Pages are backed on first touch.
func commit(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

// decommit drops the pages behind b and makes it inaccessible again, so a
// stale pointer into a freed block faults instead of reading reused memory.
func decommit(b []byte) error {
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

func release(b []byte) error {
	return unix.Munmap(b)
}

// clampReservation leaves the reservation as requested: address space is
// not backed until committed.
func clampReservation(size uintptr) uintptr {
	return size
}

// mapPages returns size bytes of zeroed, committed memory.
func mapPages(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapPages(b []byte) error {
	return unix.Munmap(b)
}
