// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import "code.hybscloud.com/atomix"

// CacheID identifies the cache owning a block. Zero means unowned.
type CacheID = uint32

// cacheCounter is the global monotonic counter for cache identifiers.
var cacheCounter atomix.Uint32

// nextCacheID returns the next cache identifier, never zero.
func nextCacheID() CacheID {
	return cacheCounter.Add(1)
}
