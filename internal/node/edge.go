package node

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/minhtran241/edge-computing-models/internal/algorithm"
	"github.com/minhtran241/edge-computing-models/internal/config"
	"github.com/minhtran241/edge-computing-models/internal/model"
	"github.com/minhtran241/edge-computing-models/internal/queue"
	"github.com/minhtran241/edge-computing-models/internal/stats"
	"github.com/minhtran241/edge-computing-models/internal/stream"
)

// EdgeNode accepts IoT sessions and either processes payloads itself (when
// their architecture is Edge) or passes them through to the cloud. Without
// an upstream address it is the last hop and keeps results locally.
type EdgeNode struct {
	*relay

	dialer   stream.Dialer
	upstream stream.Session
	results  *resultStore
	// flushed is the part of each origin's totals already reported
	// upstream. Owned by the worker goroutine.
	flushed map[string]stats.Totals
}

func NewEdgeNode(cfg config.Config, deps Deps) (*EdgeNode, error) {
	cfg.Role = config.RoleEdge
	deps, err := deps.withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	n := &EdgeNode{
		relay:   newRelay(cfg, deps, "edge"),
		dialer:  deps.Dialer,
		results: newResultStore(),
		flushed: make(map[string]stats.Totals),
	}
	n.onReceived = n.route
	return n, nil
}

// Results returns what a terminal edge kept for origin.
func (n *EdgeNode) Results(origin string) []Result {
	return n.results.get(origin)
}

func (n *EdgeNode) Run(ctx context.Context) error {
	if err := n.life.start(); err != nil {
		return err
	}
	defer n.life.stopped()

	if err := n.listen(); err != nil {
		return err
	}
	if addr := n.cfg.UpstreamAddress; addr != "" {
		up, err := dialWithRetry(ctx, n.dialer, addr, n.cfg.NodeID, n.cfg.ConnectRetries, n.logger)
		if err != nil {
			n.observer.UpstreamConnected(false)
			return multierror.Append(fmt.Errorf("connect upstream %s: %w", addr, err), n.server.Close()).ErrorOrNil()
		}
		n.upstream = up
		n.observer.UpstreamConnected(true)
		n.logger.Info("connected to cloud", "address", addr)
		go n.watchUpstream(up)
	} else {
		n.logger.Info("no upstream configured, edge is terminal")
	}
	close(n.ready)

	var result *multierror.Error
	if err := n.run(ctx, n.work); err != nil {
		result = multierror.Append(result, err)
	}
	if n.upstream != nil {
		if err := n.upstream.Disconnect(); err != nil {
			result = multierror.Append(result, fmt.Errorf("disconnect upstream: %w", err))
		}
		n.observer.UpstreamConnected(false)
	}
	return result.ErrorOrNil()
}

// watchUpstream reports the upstream as down once its session ends. Run
// disconnects the session on exit, so this always returns.
func (n *EdgeNode) watchUpstream(up stream.Session) {
	<-up.Done()
	if n.life.State() == StateRunning {
		n.logger.Warn("upstream session closed, payloads can no longer be forwarded")
	}
	n.observer.UpstreamConnected(false)
}

// route runs on the control loop.
func (n *EdgeNode) route(peer string, env model.Envelope) {
	switch env.Kind() {
	case model.KindPayload:
		if err := n.queue.Enqueue(peer, env); err != nil {
			n.logger.Warn("payload rejected", "peer_id", peer, "error", err)
		}
	case model.KindStats:
		origin := originOf(peer, env)
		n.stats.MergeReport(origin, *env.Stats)
		n.logger.Info("stats report merged", "origin", origin,
			"acc_transtime", env.Stats.AccTransmission, "acc_proctime", env.Stats.AccProcessing)
		// Queued behind the origin's payloads so the flush sees their times.
		if err := n.queue.Enqueue(peer, env); err != nil {
			n.logger.Warn("stats flush rejected", "peer_id", peer, "error", err)
		}
	}
}

func (n *EdgeNode) work(ctx context.Context, it queue.Item) error {
	origin := originOf(it.PeerID, it.Envelope)
	if it.Envelope.Kind() == model.KindStats {
		return n.flushStats(ctx, origin)
	}

	p := *it.Envelope.Payload
	if p.Architecture == model.ArchEdge {
		algo, err := algorithm.Parse(p.Algorithm)
		if err != nil {
			return fmt.Errorf("%w: %v", algorithm.ErrProcessing, err)
		}
		out, took, err := algo.Timed(p.Data)
		if err != nil {
			return err
		}
		n.stats.RecordLocalProcessing(origin, took)
		p.Data = out
	}
	p.IoTDeviceID = origin
	n.observer.PayloadHandled(origin)

	if n.upstream == nil {
		n.stats.RecordResult(origin, p.DataSize)
		n.results.add(origin, Result{Algorithm: p.Algorithm, DataSize: p.DataSize, Data: p.Data})
		n.logger.Debug("result stored", "origin", origin)
		return nil
	}

	took, err := n.upstream.Emit(ctx, model.EventRecv, model.NewPayloadEnvelope(p))
	n.stats.RecordLocalTransmission(origin, took)
	if err != nil {
		return err
	}
	n.logger.Debug("payload forwarded", "origin", origin, "transmission", took)
	return nil
}

// flushStats sends what origin's chain has accumulated since the last flush.
func (n *EdgeNode) flushStats(ctx context.Context, origin string) error {
	if n.upstream == nil {
		return nil
	}
	total, _ := n.stats.Totals(origin)
	prev := n.flushed[origin]
	report := model.StatsReport{
		AccTransmission: total.Transmission - prev.Transmission,
		AccProcessing:   total.Processing - prev.Processing,
		DeviceID:        origin,
	}
	if _, err := n.upstream.Emit(ctx, model.EventRecv, model.NewStatsEnvelope(report)); err != nil {
		return err
	}
	n.flushed[origin] = total
	return nil
}

// originOf attributes traffic to the IoT device that produced it, falling
// back to the session it arrived on.
func originOf(peer string, env model.Envelope) string {
	switch {
	case env.Payload != nil && env.Payload.IoTDeviceID != "":
		return env.Payload.IoTDeviceID
	case env.Stats != nil && env.Stats.DeviceID != "":
		return env.Stats.DeviceID
	default:
		return peer
	}
}
