// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	Executed uint64
	Stolen   uint64
	Queued   int
}

// Stats is a snapshot of pool counters. Values are read without
// synchronizing with running tasks.
type Stats struct {
	Spawned  uint64
	Orphaned uint64
	Live     int
	Workers  []WorkerStats
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Spawned:  p.spawned.Load(),
		Orphaned: p.orphaned.Load(),
		Live:     p.tasks.Len(),
		Workers:  make([]WorkerStats, len(p.workers)),
	}
	for i, w := range p.workers {
		s.Workers[i] = WorkerStats{
			Executed: w.executed.Load(),
			Stolen:   w.stolen.Load(),
			Queued:   w.dq.size(),
		}
	}
	return s
}

// Collector exports pool statistics to Prometheus.
type Collector struct {
	p        *Pool
	spawned  *prometheus.Desc
	orphaned *prometheus.Desc
	live     *prometheus.Desc
	executed *prometheus.Desc
	stolen   *prometheus.Desc
	queued   *prometheus.Desc
}

// NewCollector returns a collector over p.
func NewCollector(p *Pool) *Collector {
	worker := []string{"worker"}
	return &Collector{
		p: p,
		spawned: prometheus.NewDesc("engine_threadpool_tasks_spawned_total",
			"Tasks submitted to the pool.", nil, nil),
		orphaned: prometheus.NewDesc("engine_threadpool_orphan_errors_total",
			"Root tasks that finished with an error.", nil, nil),
		live: prometheus.NewDesc("engine_threadpool_tasks_live",
			"Tasks allocated and not yet completed.", nil, nil),
		executed: prometheus.NewDesc("engine_threadpool_worker_executed_total",
			"Task bodies run by a worker.", worker, nil),
		stolen: prometheus.NewDesc("engine_threadpool_worker_stolen_total",
			"Tasks a worker took from another worker's queue.", worker, nil),
		queued: prometheus.NewDesc("engine_threadpool_worker_queued",
			"Tasks waiting in a worker's queue.", worker, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.spawned
	ch <- c.orphaned
	ch <- c.live
	ch <- c.executed
	ch <- c.stolen
	ch <- c.queued
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.p.Stats()
	ch <- prometheus.MustNewConstMetric(c.spawned, prometheus.CounterValue, float64(s.Spawned))
	ch <- prometheus.MustNewConstMetric(c.orphaned, prometheus.CounterValue, float64(s.Orphaned))
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(s.Live))
	for i, ws := range s.Workers {
		id := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(c.executed, prometheus.CounterValue, float64(ws.Executed), id)
		ch <- prometheus.MustNewConstMetric(c.stolen, prometheus.CounterValue, float64(ws.Stolen), id)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(ws.Queued), id)
	}
}
