// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !debug

package memory

import "unsafe"

const debugChecks = false

func poison(unsafe.Pointer, uintptr) {}

func checkPoison(unsafe.Pointer, uintptr) {}

func trackFree(unsafe.Pointer) {}

func trackAlloc(unsafe.Pointer) {}
