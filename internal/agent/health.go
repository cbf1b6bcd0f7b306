package agent

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minhtran241/edge-computing-models/internal/config"
)

// HealthStatus is the node.Observer behind /healthz.
type HealthStatus struct {
	role              config.Role
	running           atomic.Bool
	upstreamSeen      atomic.Bool
	upstreamConnected atomic.Bool
	payloads          atomic.Uint64
	lastPayloadAt     atomic.Int64

	mu    sync.Mutex
	peers map[string]int
}

func NewHealthStatus(role config.Role) *HealthStatus {
	return &HealthStatus{role: role, peers: make(map[string]int)}
}

func (h *HealthStatus) SetRunning(ok bool) {
	h.running.Store(ok)
}

func (h *HealthStatus) PeerConnected(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peerID]++
}

func (h *HealthStatus) PeerDisconnected(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[peerID] <= 1 {
		delete(h.peers, peerID)
		return
	}
	h.peers[peerID]--
}

func (h *HealthStatus) UpstreamConnected(ok bool) {
	h.upstreamSeen.Store(true)
	h.upstreamConnected.Store(ok)
}

func (h *HealthStatus) PayloadHandled(string) {
	h.payloads.Add(1)
	h.lastPayloadAt.Store(time.Now().UnixNano())
}

// Healthy is true while the role runs and, if it has an upstream, while
// that upstream is connected.
func (h *HealthStatus) Healthy() bool {
	if !h.running.Load() {
		return false
	}
	return !h.upstreamSeen.Load() || h.upstreamConnected.Load()
}

func (h *HealthStatus) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.peers))
	for p := range h.peers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"role":     h.role,
		"running":  h.running.Load(),
		"healthy":  h.Healthy(),
		"peers":    h.Peers(),
		"payloads": h.payloads.Load(),
	}
	if h.upstreamSeen.Load() {
		out["upstream_connected"] = h.upstreamConnected.Load()
	}
	if v := h.lastPayloadAt.Load(); v > 0 {
		out["last_payload_at"] = time.Unix(0, v).UTC()
	}
	return out
}
