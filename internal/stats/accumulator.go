// Package stats keeps per-peer transmission and processing totals.
package stats

import (
	"sync"
	"time"

	mstats "github.com/montanaflynn/stats"

	"github.com/minhtran241/edge-computing-models/internal/model"
)

// Totals are in seconds, matching the wire StatsReport.
type Totals struct {
	Transmission float64 `json:"transmission_seconds"`
	Processing   float64 `json:"processing_seconds"`
	Files        int     `json:"files"`
	Bytes        int64   `json:"bytes"`
}

type PeerTotals struct {
	PeerID string `json:"peer_id"`
	Totals
}

type Snapshot struct {
	Peers            []PeerTotals `json:"peers"`
	MeanTransmission float64      `json:"mean_transmission_seconds"`
	MeanProcessing   float64      `json:"mean_processing_seconds"`
	TotalFiles       int          `json:"total_files"`
	TotalBytes       int64        `json:"total_bytes"`
}

// Accumulator survives peer reconnects: entries are created on first use
// and never removed.
type Accumulator struct {
	mu    sync.Mutex
	order []string
	peers map[string]*Totals
}

func NewAccumulator() *Accumulator {
	return &Accumulator{peers: make(map[string]*Totals)}
}

func (a *Accumulator) Touch(peer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entryLocked(peer)
}

func (a *Accumulator) RecordLocalTransmission(peer string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entryLocked(peer).Transmission += d.Seconds()
}

func (a *Accumulator) RecordLocalProcessing(peer string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entryLocked(peer).Processing += d.Seconds()
}

// MergeReport adds the times a downstream node measured itself.
func (a *Accumulator) MergeReport(peer string, r model.StatsReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.entryLocked(peer)
	t.Transmission += r.AccTransmission
	t.Processing += r.AccProcessing
}

func (a *Accumulator) RecordResult(peer string, dataSize int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.entryLocked(peer)
	t.Files++
	t.Bytes += dataSize
}

func (a *Accumulator) Totals(peer string) (Totals, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.peers[peer]
	if !ok {
		return Totals{}, false
	}
	return *t, true
}

// Report renders a peer's totals as the StatsReport a relay sends upstream.
func (a *Accumulator) Report(peer string) model.StatsReport {
	t, _ := a.Totals(peer)
	return model.StatsReport{AccTransmission: t.Transmission, AccProcessing: t.Processing, DeviceID: peer}
}

// Snapshot copies the table. Means are across peers, not across items.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	out := Snapshot{Peers: make([]PeerTotals, 0, len(a.order))}
	for _, id := range a.order {
		out.Peers = append(out.Peers, PeerTotals{PeerID: id, Totals: *a.peers[id]})
	}
	a.mu.Unlock()

	trans := make(mstats.Float64Data, 0, len(out.Peers))
	proc := make(mstats.Float64Data, 0, len(out.Peers))
	for _, p := range out.Peers {
		trans = append(trans, p.Transmission)
		proc = append(proc, p.Processing)
		out.TotalFiles += p.Files
		out.TotalBytes += p.Bytes
	}
	if len(out.Peers) > 0 {
		out.MeanTransmission, _ = trans.Mean()
		out.MeanProcessing, _ = proc.Mean()
	}
	return out
}

func (a *Accumulator) entryLocked(peer string) *Totals {
	t, ok := a.peers[peer]
	if !ok {
		t = &Totals{}
		a.peers[peer] = t
		a.order = append(a.order, peer)
	}
	return t
}
