// Package report persists end-of-run stats so runs with different
// architectures and algorithms can be compared afterwards.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/minhtran241/edge-computing-models/internal/stats"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	role         TEXT NOT NULL,
	node_id      TEXT NOT NULL,
	algorithm    TEXT NOT NULL,
	architecture TEXT NOT NULL,
	stream_mode  TEXT NOT NULL,
	iterations   INTEGER NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP NOT NULL,
	mean_transmission_seconds REAL NOT NULL,
	mean_processing_seconds   REAL NOT NULL,
	total_files  INTEGER NOT NULL,
	total_bytes  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS peer_stats (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	peer_id      TEXT NOT NULL,
	transmission_seconds REAL NOT NULL,
	processing_seconds   REAL NOT NULL,
	files        INTEGER NOT NULL,
	bytes        INTEGER NOT NULL,
	PRIMARY KEY (run_id, peer_id)
);
`

// Run describes one process lifetime of a role.
type Run struct {
	ID           string
	Role         string
	NodeID       string
	Algorithm    string
	Architecture string
	StreamMode   string
	Iterations   int
	StartedAt    time.Time
	FinishedAt   time.Time
}

type Recorder struct {
	db *sql.DB
}

func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create report schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Record stores run and its snapshot in one transaction and returns the
// run id, generating one if run.ID is empty.
func (r *Recorder) Record(ctx context.Context, run Run, snap stats.Snapshot) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin report tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, role, node_id, algorithm, architecture, stream_mode,
		iterations, started_at, finished_at, mean_transmission_seconds, mean_processing_seconds, total_files, total_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Role, run.NodeID, run.Algorithm, run.Architecture, run.StreamMode,
		run.Iterations, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		snap.MeanTransmission, snap.MeanProcessing, snap.TotalFiles, snap.TotalBytes)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, p := range snap.Peers {
		_, err = tx.ExecContext(ctx, `INSERT INTO peer_stats (run_id, peer_id, transmission_seconds, processing_seconds, files, bytes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, p.PeerID, p.Transmission, p.Processing, p.Files, p.Bytes)
		if err != nil {
			return "", fmt.Errorf("insert peer stats %s: %w", p.PeerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit report: %w", err)
	}
	return run.ID, nil
}

// PeerStats reads back the per-peer rows of a run in peer id order.
func (r *Recorder) PeerStats(ctx context.Context, runID string) ([]stats.PeerTotals, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT peer_id, transmission_seconds, processing_seconds, files, bytes
		FROM peer_stats WHERE run_id = ? ORDER BY peer_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query peer stats: %w", err)
	}
	defer rows.Close()

	var out []stats.PeerTotals
	for rows.Next() {
		var p stats.PeerTotals
		if err := rows.Scan(&p.PeerID, &p.Transmission, &p.Processing, &p.Files, &p.Bytes); err != nil {
			return nil, fmt.Errorf("scan peer stats: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunCount is the number of recorded runs for a node.
func (r *Recorder) RunCount(ctx context.Context, nodeID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE node_id = ?`, nodeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
