package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtran241/edge-computing-models/internal/stats"
)

func TestRecordAndReadBack(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer r.Close()

	now := time.Now()
	snap := stats.Snapshot{
		Peers: []stats.PeerTotals{
			{PeerID: "iot-2", Totals: stats.Totals{Transmission: 0.5, Processing: 1, Files: 3, Bytes: 300}},
			{PeerID: "iot-1", Totals: stats.Totals{Transmission: 1.5, Processing: 2, Files: 3, Bytes: 600}},
		},
		MeanTransmission: 1,
		MeanProcessing:   1.5,
		TotalFiles:       6,
		TotalBytes:       900,
	}
	run := Run{
		Role: "cloud", NodeID: "cloud-1", Algorithm: "SW", Architecture: "Edge",
		StreamMode: "websocket", Iterations: 3, StartedAt: now.Add(-time.Minute), FinishedAt: now,
	}

	ctx := context.Background()
	id, err := r.Record(ctx, run, snap)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	peers, err := r.PeerStats(ctx, id)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "iot-1", peers[0].PeerID)
	assert.Equal(t, snap.Peers[1].Totals, peers[0].Totals)

	_, err = r.Record(ctx, run, stats.Snapshot{})
	require.NoError(t, err)
	n, err := r.RunCount(ctx, "cloud-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordRejectsDuplicateRunID(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer r.Close()

	run := Run{ID: "fixed", Role: "edge", NodeID: "edge-1", StartedAt: time.Now(), FinishedAt: time.Now()}
	_, err = r.Record(context.Background(), run, stats.Snapshot{})
	require.NoError(t, err)
	_, err = r.Record(context.Background(), run, stats.Snapshot{})
	assert.Error(t, err)
}
