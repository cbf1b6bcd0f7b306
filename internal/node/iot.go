package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minhtran241/edge-computing-models/internal/algorithm"
	"github.com/minhtran241/edge-computing-models/internal/config"
	"github.com/minhtran241/edge-computing-models/internal/model"
	"github.com/minhtran241/edge-computing-models/internal/stats"
	"github.com/minhtran241/edge-computing-models/internal/stream"
)

// IoTClient sends the configured data set to one target a fixed number of
// times, then reports its own accumulated times.
type IoTClient struct {
	cfg      config.Config
	target   string
	deviceID string
	dialer   stream.Dialer
	logger   *slog.Logger
	observer Observer
	stats    *stats.Accumulator
	life     Lifecycle
}

func NewIoTClient(cfg config.Config, target, deviceID string, deps Deps) (*IoTClient, error) {
	cfg.Role = config.RoleIoT
	deps, err := deps.withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return &IoTClient{
		cfg:      cfg,
		target:   target,
		deviceID: deviceID,
		dialer:   deps.Dialer,
		logger:   deps.Logger.With("component", "iot", "device_id", deviceID, "target", target),
		observer: deps.Observer,
		stats:    stats.NewAccumulator(),
	}, nil
}

// NewIoTClients builds one client per target. With several targets each
// client's device id gets a -t<n> suffix so the receivers can tell them apart.
func NewIoTClients(cfg config.Config, deps Deps) ([]*IoTClient, error) {
	if len(cfg.TargetAddresses) == 0 {
		return nil, fmt.Errorf("%w: no iot targets", config.ErrConfiguration)
	}
	clients := make([]*IoTClient, 0, len(cfg.TargetAddresses))
	for i, target := range cfg.TargetAddresses {
		id := cfg.NodeID
		if len(cfg.TargetAddresses) > 1 {
			id = fmt.Sprintf("%s-t%d", cfg.NodeID, i+1)
		}
		c, err := NewIoTClient(cfg, target, id, deps)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// RunIoT runs every client concurrently and returns the first error.
func RunIoT(ctx context.Context, clients []*IoTClient) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		g.Go(func() error {
			if err := c.Run(gctx); err != nil {
				return fmt.Errorf("iot client %s: %w", c.deviceID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *IoTClient) DeviceID() string { return c.deviceID }

func (c *IoTClient) State() State { return c.life.State() }

func (c *IoTClient) Stats() stats.Snapshot { return c.stats.Snapshot() }

func (c *IoTClient) Run(ctx context.Context) error {
	if err := c.life.start(); err != nil {
		return err
	}
	defer c.life.stopped()

	dir := c.cfg.DataDirectory()
	data, err := c.cfg.Algorithm.Preprocess(dir)
	if err != nil {
		return err
	}
	size, err := algorithm.DataSize(dir)
	if err != nil {
		return err
	}

	sess, err := dialWithRetry(ctx, c.dialer, c.target, c.deviceID, c.cfg.ConnectRetries, c.logger)
	if err != nil {
		c.observer.UpstreamConnected(false)
		return err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			c.logger.Warn("disconnect failed", "error", err)
		}
		c.observer.UpstreamConnected(false)
	}()
	c.observer.UpstreamConnected(true)
	c.logger.Info("connected", "algorithm", c.cfg.Algorithm.Name(), "arch", c.cfg.Architecture, "iterations", c.cfg.Iterations, "data_size", size)

	c.stats.Touch(c.deviceID)
	for i := 0; i < c.cfg.Iterations; i++ {
		if ctx.Err() != nil {
			c.logger.Info("stopped before all iterations were sent", "sent", i)
			return nil
		}
		c.sendOnce(ctx, sess, data, dir, size)
	}

	report := c.stats.Report(c.deviceID)
	if _, err := sess.Emit(ctx, model.EventRecv, model.NewStatsEnvelope(report)); err != nil {
		c.logger.Error("stats report not sent", "error", err)
	} else {
		c.logger.Info("stats report sent", "acc_transtime", report.AccTransmission, "acc_proctime", report.AccProcessing)
	}

	c.linger(ctx, sess)
	c.life.stopping()
	return nil
}

func (c *IoTClient) sendOnce(ctx context.Context, sess stream.Session, data json.RawMessage, dir string, size int64) {
	p := model.Payload{
		Architecture: c.cfg.Architecture,
		DataSize:     size,
		DataSource:   dir,
		Algorithm:    c.cfg.Algorithm.String(),
		Data:         data,
		Iterations:   c.cfg.Iterations,
	}
	if c.cfg.Architecture == model.ArchIoT {
		out, took, err := c.cfg.Algorithm.Timed(data)
		if err != nil {
			c.logger.Error("local processing failed", "error", err)
			return
		}
		c.stats.RecordLocalProcessing(c.deviceID, took)
		p.Data = out
	}

	took, err := sess.Emit(ctx, model.EventRecv, model.NewPayloadEnvelope(p))
	c.stats.RecordLocalTransmission(c.deviceID, took)
	if err != nil {
		c.logger.Warn("payload not sent", "error", err)
		return
	}
	c.observer.PayloadHandled(c.deviceID)
}

// linger keeps the session open so downstream tiers can finish the round.
func (c *IoTClient) linger(ctx context.Context, sess stream.Session) {
	var timeout <-chan time.Time
	if c.cfg.Linger > 0 {
		t := time.NewTimer(c.cfg.Linger)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	case <-sess.Done():
		c.logger.Info("session closed by peer")
	}
}
