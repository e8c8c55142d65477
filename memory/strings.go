// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import "unsafe"

// digits are the static results for single-digit strings.
var digits = [10]string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

func isStatic(s string) bool {
	return len(s) == 0 || (len(s) == 1 && s[0] >= '0' && s[0] <= '9')
}

// CopyString returns a copy of s in allocator memory. The empty string and
// single decimal digits return static strings and allocate nothing.
// The copy must be released with FreeString.
func CopyString(s string) string {
	if isStatic(s) {
		if len(s) == 0 {
			return ""
		}
		return digits[s[0]-'0']
	}
	p := Alloc(uintptr(len(s)))
	copy(unsafe.Slice((*byte)(p), len(s)), s)
	return unsafe.String((*byte)(p), len(s))
}

// FreeString releases a string returned by CopyString.
func FreeString(s string) {
	if isStatic(s) {
		return
	}
	Free(unsafe.Pointer(unsafe.StringData(s)))
}
