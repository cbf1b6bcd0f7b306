package node

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtran241/edge-computing-models/internal/algorithm"
	"github.com/minhtran241/edge-computing-models/internal/config"
	"github.com/minhtran241/edge-computing-models/internal/model"
	"github.com/minhtran241/edge-computing-models/internal/stream"
)

type runner interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
}

type upstreamObserver struct {
	nopObserver
	mu      sync.Mutex
	history []bool
}

func (o *upstreamObserver) UpstreamConnected(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, ok)
}

func (o *upstreamObserver) last() (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) == 0 {
		return false, false
	}
	return o.history[len(o.history)-1], true
}

func testConfig(t *testing.T, arch model.Architecture) config.Config {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "seq_align", "small")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "database.txt"), []byte(">hsa:1 db\nGATTACAGATTACA\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "query.txt"), []byte(">hsa:2 q\nTTACAGAT\n"), 0o644))

	return config.Config{
		NodeID:           "node",
		Architecture:     arch,
		StreamMode:       config.StreamModeWebSocket,
		ListenAddr:       "127.0.0.1:0",
		Algorithm:        algorithm.SequenceAlignment,
		SizeTier:         "small",
		Iterations:       3,
		DataRoot:         root,
		ConnectTimeout:   2 * time.Second,
		ConnectRetries:   1,
		WriteTimeout:     2 * time.Second,
		MaxMessageBytes:  1 << 20,
		QueuePollTimeout: 20 * time.Millisecond,
		Linger:           100 * time.Millisecond,
		ShutdownTimeout:  5 * time.Second,
	}
}

// start runs n in the background and returns a stop func that cancels it
// and reports its Run error.
func start(t *testing.T, n runner) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case <-n.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("node exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("node not ready")
	}

	var stopped bool
	var runErr error
	stop := func() error {
		if !stopped {
			stopped = true
			cancel()
			runErr = <-done
		}
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func runIoT(t *testing.T, cfg config.Config, target, deviceID string) *IoTClient {
	t.Helper()
	c, err := NewIoTClient(cfg, target, deviceID, Deps{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, StateStopped, c.State())
	return c
}

func expectedAlignment(t *testing.T, cfg config.Config) []byte {
	t.Helper()
	raw, err := cfg.Algorithm.Preprocess(cfg.DataDirectory())
	require.NoError(t, err)
	out, err := cfg.Algorithm.Process(raw)
	require.NoError(t, err)
	return out
}

func TestEdgeProcessesAndCloudCountsFiles(t *testing.T) {
	cfg := testConfig(t, model.ArchEdge)

	cloud, err := NewCloudServer(cfg, Deps{})
	require.NoError(t, err)
	stopCloud := start(t, cloud)

	edgeCfg := cfg
	edgeCfg.UpstreamAddress = cloud.Endpoint()
	edge, err := NewEdgeNode(edgeCfg, Deps{})
	require.NoError(t, err)
	stopEdge := start(t, edge)

	iot := runIoT(t, cfg, edge.Endpoint(), "iot-1")
	sent, _ := iot.stats.Totals("iot-1")
	assert.Zero(t, sent.Processing)

	require.Eventually(t, func() bool {
		return edge.QueueCounters().Processed == 4
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stopEdge())

	require.Eventually(t, func() bool {
		return len(cloud.Results("iot-1")) == 3
	}, 5*time.Second, 10*time.Millisecond)

	want := expectedAlignment(t, cfg)
	for _, r := range cloud.Results("iot-1") {
		assert.Equal(t, string(want), string(r.Data))
	}

	require.Eventually(t, func() bool {
		snap := cloud.Stats()
		for _, p := range snap.Peers {
			if p.PeerID == "iot-1" {
				return p.Files == 3 && p.Processing > 0 && p.Transmission > 0
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	received, processed := cloud.Counters()
	assert.Equal(t, uint64(3), received)
	assert.Zero(t, processed)

	require.NoError(t, stopCloud())
	assert.Equal(t, StateStopped, cloud.State())
}

func TestIoTProcessedPayloadRelaysUnchanged(t *testing.T) {
	cfg := testConfig(t, model.ArchIoT)
	cfg.Iterations = 1

	cloud, err := NewCloudServer(cfg, Deps{})
	require.NoError(t, err)
	start(t, cloud)

	edgeCfg := cfg
	edgeCfg.UpstreamAddress = cloud.Endpoint()
	edge, err := NewEdgeNode(edgeCfg, Deps{})
	require.NoError(t, err)
	start(t, edge)

	runIoT(t, cfg, edge.Endpoint(), "iot-1")

	require.Eventually(t, func() bool {
		return len(cloud.Results("iot-1")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, string(expectedAlignment(t, cfg)), string(cloud.Results("iot-1")[0].Data))
}

func TestCloudProcessesCloudPayloads(t *testing.T) {
	cfg := testConfig(t, model.ArchCloud)
	cfg.Iterations = 2

	cloud, err := NewCloudServer(cfg, Deps{})
	require.NoError(t, err)
	start(t, cloud)

	runIoT(t, cfg, cloud.Endpoint(), "iot-9")

	require.Eventually(t, func() bool {
		_, processed := cloud.Counters()
		return processed == 2
	}, 5*time.Second, 10*time.Millisecond)
	results := cloud.Results("iot-9")
	require.Len(t, results, 2)
	assert.Equal(t, string(expectedAlignment(t, cfg)), string(results[0].Data))
}

func TestHeaderlessClientsFragmentIntoDistinctBuckets(t *testing.T) {
	cfg := testConfig(t, model.ArchEdge)

	edge, err := NewEdgeNode(cfg, Deps{})
	require.NoError(t, err)
	start(t, edge)

	runIoT(t, cfg, edge.Endpoint(), "")
	runIoT(t, cfg, edge.Endpoint(), "")

	require.Eventually(t, func() bool {
		snap := edge.Stats()
		if len(snap.Peers) != 2 {
			return false
		}
		return snap.Peers[0].Files == 3 && snap.Peers[1].Files == 3
	}, 5*time.Second, 10*time.Millisecond)

	snap := edge.Stats()
	assert.NotEqual(t, snap.Peers[0].PeerID, snap.Peers[1].PeerID)
	assert.Len(t, edge.Results(snap.Peers[0].PeerID), 3)
}

func TestRunTwiceFails(t *testing.T) {
	cfg := testConfig(t, model.ArchCloud)
	cloud, err := NewCloudServer(cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, StateCreated, cloud.State())
	start(t, cloud)

	assert.Equal(t, StateRunning, cloud.State())
	assert.ErrorIs(t, cloud.Run(context.Background()), ErrAlreadyStarted)
}

func TestEdgeFailsWhenUpstreamUnreachable(t *testing.T) {
	cfg := testConfig(t, model.ArchEdge)
	cfg.ConnectRetries = 0
	cfg.UpstreamAddress = "ws://127.0.0.1:1/ws"

	edge, err := NewEdgeNode(cfg, Deps{})
	require.NoError(t, err)
	err = edge.Run(context.Background())
	assert.ErrorIs(t, err, stream.ErrConnection)
	assert.Equal(t, StateStopped, edge.State())
}

func TestNewIoTClientsSuffixesDeviceIDs(t *testing.T) {
	cfg := testConfig(t, model.ArchEdge)
	cfg.NodeID = "iot"
	cfg.TargetAddresses = []string{"ws://a/ws", "ws://b/ws"}

	clients, err := NewIoTClients(cfg, Deps{})
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "iot-t1", clients[0].DeviceID())
	assert.Equal(t, "iot-t2", clients[1].DeviceID())

	cfg.TargetAddresses = []string{"ws://a/ws"}
	clients, err = NewIoTClients(cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "iot", clients[0].DeviceID())
}

func TestCloudMeansCoverOnlyOriginDevices(t *testing.T) {
	cfg := testConfig(t, model.ArchEdge)

	cloud, err := NewCloudServer(cfg, Deps{})
	require.NoError(t, err)
	start(t, cloud)

	edgeCfg := cfg
	edgeCfg.NodeID = "edge-1"
	edgeCfg.UpstreamAddress = cloud.Endpoint()
	edge, err := NewEdgeNode(edgeCfg, Deps{})
	require.NoError(t, err)
	start(t, edge)

	runIoT(t, cfg, edge.Endpoint(), "iot-1")

	require.Eventually(t, func() bool {
		snap := cloud.Stats()
		return len(snap.Peers) == 1 && snap.Peers[0].Files == 3 &&
			snap.Peers[0].Transmission > 0 && snap.Peers[0].Processing > 0
	}, 5*time.Second, 10*time.Millisecond)

	snap := cloud.Stats()
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, "iot-1", snap.Peers[0].PeerID)
	assert.InDelta(t, snap.Peers[0].Transmission, snap.MeanTransmission, 1e-12)
	assert.InDelta(t, snap.Peers[0].Processing, snap.MeanProcessing, 1e-12)

	edgeSnap := edge.Stats()
	require.Len(t, edgeSnap.Peers, 1)
	assert.Equal(t, "iot-1", edgeSnap.Peers[0].PeerID)
}

func TestEdgeReportsUpstreamLoss(t *testing.T) {
	cfg := testConfig(t, model.ArchEdge)

	cloud, err := NewCloudServer(cfg, Deps{})
	require.NoError(t, err)
	stopCloud := start(t, cloud)

	obs := &upstreamObserver{}
	edgeCfg := cfg
	edgeCfg.UpstreamAddress = cloud.Endpoint()
	edge, err := NewEdgeNode(edgeCfg, Deps{Observer: obs})
	require.NoError(t, err)
	start(t, edge)

	up, seen := obs.last()
	require.True(t, seen)
	assert.True(t, up)

	require.NoError(t, stopCloud())
	require.Eventually(t, func() bool {
		up, _ := obs.last()
		return !up
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateRunning, edge.State())
}
