package system

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CPUCounters are the aggregate jiffy counters from the "cpu " line of
// /proc/stat.
type CPUCounters struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
	Total   uint64
}

func (c CPUCounters) idle() uint64 { return c.Idle + c.IOWait }

func parseCPUCounters(r io.Reader) (CPUCounters, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			return CPUCounters{}, fmt.Errorf("unexpected cpu line: %q", line)
		}
		var vals [8]uint64
		var c CPUCounters
		for i, p := range parts[1:] {
			v, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return CPUCounters{}, fmt.Errorf("parse cpu stat %q: %w", p, err)
			}
			if i < len(vals) {
				vals[i] = v
			}
			c.Total += v
		}
		c.User, c.Nice, c.System, c.Idle = vals[0], vals[1], vals[2], vals[3]
		c.IOWait, c.IRQ, c.SoftIRQ, c.Steal = vals[4], vals[5], vals[6], vals[7]
		return c, nil
	}
	if err := s.Err(); err != nil {
		return CPUCounters{}, fmt.Errorf("scan cpu stats: %w", err)
	}
	return CPUCounters{}, fmt.Errorf("cpu aggregate line not found")
}

// CPUUsage is the busy share of the interval between prev and cur, in
// percent, clamped to [0, 100].
func CPUUsage(prev, cur CPUCounters) float64 {
	if cur.Total <= prev.Total {
		return 0
	}
	total := float64(cur.Total - prev.Total)
	var idle float64
	if cur.idle() > prev.idle() {
		idle = float64(cur.idle() - prev.idle())
	}
	usage := (total - idle) / total * 100
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}
