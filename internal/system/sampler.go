// Package system samples host CPU and memory usage from procfs so a run's
// processing times can be read against the load of the machine.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Sample struct {
	At         time.Time  `json:"at"`
	CPUPercent float64    `json:"cpu_percent"`
	Memory     MemoryInfo `json:"memory"`
}

// Sampler periodically reads <procRoot>/stat and <procRoot>/meminfo.
type Sampler struct {
	procRoot string
	interval time.Duration
	logger   *slog.Logger

	cpuGauge prometheus.Gauge
	memGauge prometheus.Gauge

	mu       sync.Mutex
	prevCPU  CPUCounters
	havePrev bool
	last     Sample
}

func NewSampler(procRoot string, interval time.Duration, logger *slog.Logger, reg prometheus.Registerer) *Sampler {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := promauto.With(reg)
	return &Sampler{
		procRoot: procRoot,
		interval: interval,
		logger:   logger.With("component", "host_sampler"),
		cpuGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay_host",
			Name:      "cpu_usage_percent",
			Help:      "Host CPU busy share over the last sample interval.",
		}),
		memGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay_host",
			Name:      "memory_used_bytes",
			Help:      "Host memory in use.",
		}),
	}
}

// SampleOnce reads procfs and updates the gauges. The first call has no
// previous counters, so its CPU figure is the average since boot.
func (s *Sampler) SampleOnce() (Sample, error) {
	cpu, err := s.readCPU()
	if err != nil {
		return Sample{}, err
	}
	mem, err := s.readMemory()
	if err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prevCPU
	if !s.havePrev {
		prev = CPUCounters{}
	}
	sample := Sample{At: time.Now().UTC(), CPUPercent: CPUUsage(prev, cpu), Memory: mem}
	s.prevCPU, s.havePrev = cpu, true
	s.last = sample

	s.cpuGauge.Set(sample.CPUPercent)
	s.memGauge.Set(float64(mem.UsedBytes))
	return sample, nil
}

// Last returns the most recent sample, zero before the first one.
func (s *Sampler) Last() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run samples every interval until ctx ends. Read failures are logged and
// the loop backs off for one extra interval.
func (s *Sampler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.SampleOnce(); err != nil {
		s.logger.Warn("initial host sample failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample, err := s.SampleOnce()
			if err != nil {
				s.logger.Error("host sample failed", "error", err)
				sleepWithContext(ctx, s.interval)
				continue
			}
			s.logger.Debug("host sample", "cpu_percent", sample.CPUPercent, "mem_used_bytes", sample.Memory.UsedBytes)
		}
	}
}

func (s *Sampler) readCPU() (CPUCounters, error) {
	f, err := os.Open(filepath.Join(s.procRoot, "stat"))
	if err != nil {
		return CPUCounters{}, fmt.Errorf("open cpu stats: %w", err)
	}
	defer f.Close()
	return parseCPUCounters(f)
}

func (s *Sampler) readMemory() (MemoryInfo, error) {
	f, err := os.Open(filepath.Join(s.procRoot, "meminfo"))
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("open meminfo: %w", err)
	}
	defer f.Close()
	return parseMemoryInfo(f)
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
