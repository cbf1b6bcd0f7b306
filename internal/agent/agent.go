// Package agent wires one node role into a process: logging, signals,
// the admin listener, host sampling and the end-of-run report.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/minhtran241/edge-computing-models/internal/config"
	"github.com/minhtran241/edge-computing-models/internal/node"
	"github.com/minhtran241/edge-computing-models/internal/stats"
	"github.com/minhtran241/edge-computing-models/internal/system"
)

// NamedSnapshot is the stats of one node instance in this process. The IoT
// role has one per target.
type NamedSnapshot struct {
	Name     string         `json:"name"`
	Snapshot stats.Snapshot `json:"snapshot"`
}

type relayRole interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	Endpoint() string
	Stats() stats.Snapshot
}

type Agent struct {
	cfg      config.Config
	logger   *slog.Logger
	out      io.Writer
	health   *HealthStatus
	registry *prometheus.Registry
	sampler  *system.Sampler

	runRole   func(ctx context.Context) error
	snapshots func() []NamedSnapshot
	relay     relayRole
	startedAt time.Time
}

// New builds the role named by cfg.Role. Stats tables are written to out
// when the agent stops.
func New(cfg config.Config, logger *slog.Logger, out io.Writer) (*Agent, error) {
	if out == nil {
		out = os.Stdout
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		health:   NewHealthStatus(cfg.Role),
		registry: reg,
		sampler:  system.NewSampler("", cfg.HostSampleEvery, logger, reg),
	}
	deps := node.Deps{Logger: logger, Observer: a.health, Registerer: reg}

	switch cfg.Role {
	case config.RoleIoT:
		clients, err := node.NewIoTClients(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("iot clients: %w", err)
		}
		a.runRole = func(ctx context.Context) error { return node.RunIoT(ctx, clients) }
		a.snapshots = func() []NamedSnapshot {
			out := make([]NamedSnapshot, 0, len(clients))
			for _, c := range clients {
				out = append(out, NamedSnapshot{Name: c.DeviceID(), Snapshot: c.Stats()})
			}
			return out
		}
	case config.RoleEdge:
		n, err := node.NewEdgeNode(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("edge node: %w", err)
		}
		a.useRelay(n)
	case config.RoleCloud:
		s, err := node.NewCloudServer(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("cloud server: %w", err)
		}
		a.useRelay(s)
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", config.ErrConfiguration, cfg.Role)
	}
	return a, nil
}

func (a *Agent) useRelay(r relayRole) {
	a.relay = r
	a.runRole = r.Run
	a.snapshots = func() []NamedSnapshot {
		return []NamedSnapshot{{Name: a.cfg.NodeID, Snapshot: r.Stats()}}
	}
}

// Ready is closed once an edge or cloud role is listening. For the IoT role
// it is never closed.
func (a *Agent) Ready() <-chan struct{} {
	if a.relay == nil {
		return nil
	}
	return a.relay.Ready()
}

// Endpoint is the address peers dial, empty for the IoT role.
func (a *Agent) Endpoint() string {
	if a.relay == nil {
		return ""
	}
	return a.relay.Endpoint()
}

func (a *Agent) Health() *HealthStatus { return a.health }

func (a *Agent) Run(ctx context.Context) error {
	a.startedAt = time.Now()
	a.logger.Info("starting node", "role", a.cfg.Role, "node_id", a.cfg.NodeID,
		"arch", a.cfg.Architecture, "stream_mode", a.cfg.StreamMode)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Role finished by itself (iot done, startup error or parent ctx canceled).
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("node stopped", "role", a.cfg.Role)
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}
