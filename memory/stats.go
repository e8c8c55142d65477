// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"code.hybscloud.com/engine/vmem"
)

// ClassStats describes one size class.
type ClassStats struct {
	Size    uintptr
	Blocks  int // blocks assigned to the class, owned or shared
	Partial int // unowned blocks with free slots
}

// Stats is a snapshot of heap occupancy.
type Stats struct {
	Classes     [NumClasses]ClassStats
	ArenaBlocks int
	ArenaInUse  int
	ArenaBytes  uintptr
	MappedBytes int64
}

// Stats takes a snapshot. Each class is locked briefly in turn, so the
// snapshot is not atomic across classes.
func (h *Heap) Stats() Stats {
	s := Stats{
		ArenaBlocks: h.arena.Blocks(),
		ArenaInUse:  h.arena.InUse(),
		ArenaBytes:  h.arena.Size(),
		MappedBytes: vmem.MappedBytes(),
	}
	for cls := range h.classes {
		ce := &h.classes[cls]
		ce.mu.Lock()
		s.Classes[cls] = ClassStats{Size: classSizes[cls], Blocks: ce.nblocks, Partial: ce.npartial}
		ce.mu.Unlock()
	}
	return s
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "arena %s reserved, %d/%d blocks committed (%s), mapped %s\n",
		humanize.IBytes(uint64(s.ArenaBytes)), s.ArenaInUse, s.ArenaBlocks,
		humanize.IBytes(uint64(s.ArenaInUse)*vmem.BlockSize),
		humanize.IBytes(uint64(max(s.MappedBytes, 0))))
	for _, c := range s.Classes {
		if c.Blocks == 0 {
			continue
		}
		fmt.Fprintf(&b, "  class %4d: %d blocks, %d partial\n", c.Size, c.Blocks, c.Partial)
	}
	return b.String()
}

// Collector exports heap statistics to Prometheus.
type Collector struct {
	h          *Heap
	arenaInUse *prometheus.Desc
	arenaTotal *prometheus.Desc
	mapped     *prometheus.Desc
	blocks     *prometheus.Desc
	partial    *prometheus.Desc
}

// NewCollector returns a collector over h.
func NewCollector(h *Heap) *Collector {
	return &Collector{
		h: h,
		arenaInUse: prometheus.NewDesc("engine_memory_arena_blocks_in_use",
			"Committed arena blocks.", nil, nil),
		arenaTotal: prometheus.NewDesc("engine_memory_arena_blocks",
			"Arena capacity in blocks.", nil, nil),
		mapped: prometheus.NewDesc("engine_memory_mapped_bytes",
			"Bytes in direct platform mappings.", nil, nil),
		blocks: prometheus.NewDesc("engine_memory_class_blocks",
			"Blocks assigned to a size class.", []string{"size"}, nil),
		partial: prometheus.NewDesc("engine_memory_class_partial_blocks",
			"Unowned blocks with free slots.", []string{"size"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.arenaInUse
	ch <- c.arenaTotal
	ch <- c.mapped
	ch <- c.blocks
	ch <- c.partial
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.h.Stats()
	ch <- prometheus.MustNewConstMetric(c.arenaInUse, prometheus.GaugeValue, float64(s.ArenaInUse))
	ch <- prometheus.MustNewConstMetric(c.arenaTotal, prometheus.GaugeValue, float64(s.ArenaBlocks))
	ch <- prometheus.MustNewConstMetric(c.mapped, prometheus.GaugeValue, float64(s.MappedBytes))
	for _, cs := range s.Classes {
		size := strconv.FormatUint(uint64(cs.Size), 10)
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(cs.Blocks), size)
		ch <- prometheus.MustNewConstMetric(c.partial, prometheus.GaugeValue, float64(cs.Partial), size)
	}
}
