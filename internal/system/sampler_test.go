package system

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfo = `MemTotal:        1000 kB
MemFree:          200 kB
MemAvailable:     400 kB
Buffers:           10 kB
`

func writeProc(t *testing.T, dir, cpuLine string) {
	t.Helper()
	stat := cpuLine + "\ncpu0 1 2 3 4 5 6 7 8\nintr 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644))
}

func TestParseCPUCounters(t *testing.T) {
	c, err := parseCPUCounters(strings.NewReader("cpu  10 0 10 70 10 0 0 0 0 0\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), c.User)
	assert.Equal(t, uint64(70), c.Idle)
	assert.Equal(t, uint64(100), c.Total)

	_, err = parseCPUCounters(strings.NewReader("intr 1 2 3\n"))
	assert.Error(t, err)
	_, err = parseCPUCounters(strings.NewReader("cpu  1 x 3 4\n"))
	assert.Error(t, err)
}

func TestCPUUsage(t *testing.T) {
	prev := CPUCounters{Idle: 50, IOWait: 0, Total: 100}
	cur := CPUCounters{Idle: 75, IOWait: 0, Total: 200}
	assert.InDelta(t, 75.0, CPUUsage(prev, cur), 1e-9)
	assert.Zero(t, CPUUsage(cur, prev))
	assert.InDelta(t, 100.0, CPUUsage(prev, CPUCounters{Idle: 40, Total: 150}), 1e-9)
}

func TestParseMemoryInfo(t *testing.T) {
	m, err := parseMemoryInfo(strings.NewReader(meminfo))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000*1024), m.TotalBytes)
	assert.Equal(t, uint64(600*1024), m.UsedBytes)

	m, err = parseMemoryInfo(strings.NewReader("MemTotal: 1000 kB\nMemFree: 100 kB\nCached: 100 kB\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(800*1024), m.UsedBytes)

	_, err = parseMemoryInfo(strings.NewReader("MemFree: 1 kB\n"))
	assert.Error(t, err)
}

func TestSamplerUsesDeltaBetweenSamples(t *testing.T) {
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	s := NewSampler(dir, time.Hour, nil, reg)

	writeProc(t, dir, "cpu  50 0 0 50 0 0 0 0")
	first, err := s.SampleOnce()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, first.CPUPercent, 1e-9)

	writeProc(t, dir, "cpu  60 0 0 140 0 0 0 0")
	second, err := s.SampleOnce()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, second.CPUPercent, 1e-9)
	assert.Equal(t, second, s.Last())

	assert.InDelta(t, 10.0, testutil.ToFloat64(s.cpuGauge), 1e-9)
	assert.InDelta(t, float64(600*1024), testutil.ToFloat64(s.memGauge), 1e-9)
}

func TestSamplerMissingProcFails(t *testing.T) {
	s := NewSampler(filepath.Join(t.TempDir(), "nope"), time.Hour, nil, nil)
	_, err := s.SampleOnce()
	assert.Error(t, err)
}

func TestSamplerRunStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, "cpu  1 0 0 1 0 0 0 0")
	s := NewSampler(dir, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return !s.Last().At.IsZero() }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop")
	}
}

func TestSamplerDisabledWithZeroInterval(t *testing.T) {
	s := NewSampler(t.TempDir(), 0, nil, nil)
	assert.NoError(t, s.Run(context.Background()))
}
