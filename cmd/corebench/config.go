// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"code.hybscloud.com/engine/threadpool"
)

type config struct {
	Threads     int           `toml:"threads"`
	Size        int           `toml:"size"`
	Repeat      int           `toml:"repeat"`
	Leaf        int           `toml:"leaf"`
	Completions int           `toml:"completions"`
	ArenaSize   string        `toml:"arena_size"`
	StealOrder  string        `toml:"steal_order"`
	MetricsAddr string        `toml:"metrics_addr"`
	Hold        time.Duration `toml:"hold"`
	LogLevel    string        `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		Threads:     runtime.GOMAXPROCS(0),
		Size:        1_000_000,
		Repeat:      100,
		Leaf:        4096,
		Completions: 256,
		ArenaSize:   "512 MiB",
		StealOrder:  threadpool.StealRoundRobin.String(),
		LogLevel:    "info",
	}
}

// parseConfig applies the TOML file named by --config, then any flag set
// explicitly on the command line.
func parseConfig(args []string, log *logrus.Logger) (config, error) {
	cfg := defaultConfig()
	fs := pflag.NewFlagSet("corebench", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "TOML configuration file")
	threads := fs.IntP("threads", "t", cfg.Threads, "worker count, including the calling goroutine")
	size := fs.IntP("size", "n", cfg.Size, "elements in the parallel sum")
	repeat := fs.IntP("repeat", "r", cfg.Repeat, "parallel sum repetitions")
	leaf := fs.Int("leaf", cfg.Leaf, "elements summed by one task without splitting")
	completions := fs.Int("completions", cfg.Completions, "simulated external completions")
	arena := fs.String("arena", cfg.ArenaSize, "allocator arena size, e.g. \"256 MiB\"")
	steal := fs.String("steal", cfg.StealOrder, "steal order: round-robin, linear or random")
	metrics := fs.String("metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	hold := fs.Duration("hold", cfg.Hold, "keep serving metrics this long after the run")
	level := fs.String("log-level", cfg.LogLevel, "logrus level")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *path != "" {
		md, err := toml.DecodeFile(*path, &cfg)
		if err != nil {
			return cfg, errors.Wrapf(err, "corebench: read %s", *path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			log.WithField("keys", strings.Join(keys, ",")).Warn("corebench: unknown configuration keys")
		}
	}

	override := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	override("threads", func() { cfg.Threads = *threads })
	override("size", func() { cfg.Size = *size })
	override("repeat", func() { cfg.Repeat = *repeat })
	override("leaf", func() { cfg.Leaf = *leaf })
	override("completions", func() { cfg.Completions = *completions })
	override("arena", func() { cfg.ArenaSize = *arena })
	override("steal", func() { cfg.StealOrder = *steal })
	override("metrics-addr", func() { cfg.MetricsAddr = *metrics })
	override("hold", func() { cfg.Hold = *hold })
	override("log-level", func() { cfg.LogLevel = *level })
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.Threads < 1:
		return errors.Errorf("corebench: threads must be positive, got %d", c.Threads)
	case c.Size < 0 || c.Repeat < 0 || c.Completions < 0:
		return errors.New("corebench: size, repeat and completions must not be negative")
	case c.Leaf < 1:
		return errors.Errorf("corebench: leaf must be positive, got %d", c.Leaf)
	}
	if _, err := c.arenaBytes(); err != nil {
		return err
	}
	if _, err := threadpool.ParseStealOrder(c.StealOrder); err != nil {
		return err
	}
	_, err := logrus.ParseLevel(c.LogLevel)
	return errors.Wrap(err, "corebench: log level")
}

func (c config) arenaBytes() (uintptr, error) {
	n, err := humanize.ParseBytes(c.ArenaSize)
	if err != nil {
		return 0, errors.Wrapf(err, "corebench: arena size %q", c.ArenaSize)
	}
	return uintptr(n), nil
}
