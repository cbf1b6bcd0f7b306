package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtran241/edge-computing-models/internal/algorithm"
	"github.com/minhtran241/edge-computing-models/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NODE_ID", "edge-1")

	cfg, err := Load(RoleEdge, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "edge-1", cfg.NodeID)
	assert.Equal(t, model.ArchEdge, cfg.Architecture)
	assert.Equal(t, StreamModeWebSocket, cfg.StreamMode)
	assert.Equal(t, DefaultEdgeAddr, cfg.ListenAddr)
	assert.Equal(t, algorithm.SequenceAlignment, cfg.Algorithm)
	assert.Equal(t, DefaultIterations, cfg.Iterations)
	assert.Equal(t, time.Second, cfg.QueuePollTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.HostSampleEvery)
}

func TestLoadCloudListenDefault(t *testing.T) {
	cfg, err := Load(RoleCloud, Overrides{NodeID: "cloud-1", Architecture: "cloud"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCloudAddr, cfg.ListenAddr)
	assert.Equal(t, model.ArchCloud, cfg.Architecture)
}

func TestLoadIoTOverridesAndTargets(t *testing.T) {
	t.Setenv("IOT_TARGETS", " ws://a:1/ws , ws://b:2/ws ,")
	t.Setenv("ITERATIONS", "7")
	t.Setenv("STREAM_MODE", "GRPC")

	cfg, err := Load(RoleIoT, Overrides{NodeID: "iot-1", Architecture: "iot", Algorithm: "sa", SizeTier: "large", Iterations: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"ws://a:1/ws", "ws://b:2/ws"}, cfg.TargetAddresses)
	assert.Equal(t, 3, cfg.Iterations)
	assert.Equal(t, StreamModeGRPC, cfg.StreamMode)
	assert.Equal(t, algorithm.SentimentAnalysis, cfg.Algorithm)
	assert.Equal(t, "data/reviews/large", cfg.DataDirectory())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		o    Overrides
		role Role
	}{
		{name: "algorithm", o: Overrides{Algorithm: "fft"}, role: RoleIoT},
		{name: "size", o: Overrides{SizeTier: "huge"}, role: RoleIoT},
		{name: "arch", o: Overrides{Architecture: "fog"}, role: RoleEdge},
		{name: "stream mode", env: map[string]string{"STREAM_MODE": "mqtt"}, role: RoleCloud},
		{name: "iterations", env: map[string]string{"ITERATIONS": "0"}, role: RoleIoT},
		{name: "poll", env: map[string]string{"QUEUE_POLL_TIMEOUT": "0s"}, role: RoleEdge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(tc.role, tc.o)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
