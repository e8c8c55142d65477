// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command corebench drives the allocator and the task scheduler through a
// parallel reduction and a simulated stream of external completions, and
// reports what both did.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	sysmem "github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"code.hybscloud.com/engine/internal/fatal"
	"code.hybscloud.com/engine/memory"
	"code.hybscloud.com/engine/threadpool"
)

func main() {
	log := logrus.New()
	if _, err := maxprocs.Set(maxprocs.Logger(log.Debugf)); err != nil {
		log.WithError(err).Warn("corebench: GOMAXPROCS left unchanged")
	}
	if err := run(os.Args[1:], os.Stdout, log); err != nil {
		log.WithError(err).Error("corebench: failed")
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, log *logrus.Logger) error {
	cfg, err := parseConfig(args, log)
	if err != nil {
		return err
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	fatal.SetLogger(log)

	arena, _ := cfg.arenaBytes()
	order, _ := threadpool.ParseStealOrder(cfg.StealOrder)
	// The process-wide heap also serves CopyString in the completion scenario.
	heap, err := memory.Init(memory.WithArenaSize(arena), memory.WithLogger(log))
	if err != nil {
		return errors.Wrap(err, "corebench: allocator")
	}
	pool, err := threadpool.New(cfg.Threads,
		threadpool.WithHeap(heap),
		threadpool.WithLogger(log),
		threadpool.WithStealOrder(order),
	)
	if err != nil {
		return errors.Wrap(err, "corebench: pool")
	}
	defer pool.Close()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(memory.NewCollector(heap), threadpool.NewCollector(pool))
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("corebench: metrics server")
			}
		}()
		defer srv.Close()
		log.WithField("addr", cfg.MetricsAddr).Info("corebench: serving metrics")
	}

	fmt.Fprintf(out, "system memory %s, %d workers, steal order %s\n",
		humanize.IBytes(sysmem.TotalMemory()), pool.Size(), order)

	sum, err := parallelSum(pool, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "parallel sum: %s elements x %d in %v (%s elements/s)\n",
		humanize.Comma(int64(cfg.Size)), cfg.Repeat, sum.elapsed.Round(time.Microsecond),
		humanize.Comma(int64(sum.rate())))

	cr, err := completions(pool, cfg.Completions)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "completions: %d finished, %s bytes copied in %v\n",
		cr.finished, humanize.Comma(cr.bytes), cr.elapsed.Round(time.Microsecond))

	s := pool.Stats()
	fmt.Fprintf(out, "tasks: %s spawned, %d unjoined errors\n", humanize.Comma(int64(s.Spawned)), s.Orphaned)
	for i, ws := range s.Workers {
		fmt.Fprintf(out, "  worker %2d: %s executed, %s stolen\n", i,
			humanize.Comma(int64(ws.Executed)), humanize.Comma(int64(ws.Stolen)))
	}
	fmt.Fprint(out, heap.Stats().String())

	if cfg.MetricsAddr != "" && cfg.Hold > 0 {
		time.Sleep(cfg.Hold)
	}
	return nil
}
