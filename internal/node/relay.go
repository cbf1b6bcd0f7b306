package node

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/minhtran241/edge-computing-models/internal/config"
	"github.com/minhtran241/edge-computing-models/internal/model"
	"github.com/minhtran241/edge-computing-models/internal/queue"
	"github.com/minhtran241/edge-computing-models/internal/stats"
	"github.com/minhtran241/edge-computing-models/internal/stream"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Event is what transport callbacks hand to the control loop.
type Event struct {
	Kind     EventKind
	Session  stream.Session
	Envelope model.Envelope
}

// Deps are optional collaborators; nil fields are built from config.
type Deps struct {
	Logger     *slog.Logger
	Server     stream.Server
	Dialer     stream.Dialer
	Observer   Observer
	Registerer prometheus.Registerer
}

func (d Deps) withDefaults(cfg config.Config) (Deps, error) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Server == nil && cfg.Role != config.RoleIoT {
		srv, err := stream.NewServerFromConfig(cfg, d.Logger)
		if err != nil {
			return Deps{}, err
		}
		d.Server = srv
	}
	if d.Dialer == nil && cfg.Role != config.RoleCloud {
		dialer, err := stream.NewDialerFromConfig(cfg, d.Logger)
		if err != nil {
			return Deps{}, err
		}
		d.Dialer = dialer
	}
	return d, nil
}

// relay is the part of the edge and cloud roles that accepts sessions,
// routes their events through one control loop, and feeds the work queue.
type relay struct {
	cfg      config.Config
	logger   *slog.Logger
	server   stream.Server
	observer Observer
	queue    *queue.Queue
	stats    *stats.Accumulator
	life     Lifecycle

	events chan Event
	quit   chan struct{}
	ready  chan struct{}

	// onReceived runs on the control loop goroutine.
	onReceived func(peerID string, env model.Envelope)
}

func newRelay(cfg config.Config, deps Deps, name string) *relay {
	return &relay{
		cfg:      cfg,
		logger:   deps.Logger.With("component", name, "node_id", cfg.NodeID),
		server:   deps.Server,
		observer: deps.Observer,
		queue: queue.New(queue.Options{
			Name:        name,
			PollTimeout: cfg.QueuePollTimeout,
			Logger:      deps.Logger,
			Registerer:  deps.Registerer,
		}),
		stats:  stats.NewAccumulator(),
		events: make(chan Event, 64),
		quit:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (r *relay) State() State { return r.life.State() }

// Ready is closed once the server is listening and any upstream is connected.
func (r *relay) Ready() <-chan struct{} { return r.ready }

func (r *relay) Endpoint() string { return r.server.Endpoint() }

func (r *relay) Stats() stats.Snapshot { return r.stats.Snapshot() }

func (r *relay) QueueCounters() queue.Counters { return r.queue.Counters() }

func (r *relay) listen() error {
	r.server.On(model.EventRecv, func(s stream.Session, env model.Envelope) {
		r.post(Event{Kind: EventReceived, Session: s, Envelope: env})
	})
	r.server.OnConnect(func(s stream.Session) {
		r.post(Event{Kind: EventConnected, Session: s})
	})
	r.server.OnDisconnect(func(s stream.Session) {
		r.post(Event{Kind: EventDisconnected, Session: s})
	})
	return r.server.Listen()
}

func (r *relay) post(ev Event) {
	select {
	case r.events <- ev:
	case <-r.quit:
		r.logger.Debug("dropping event after shutdown", "event", ev.Kind.String())
	}
}

func (r *relay) controlLoop() {
	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-r.quit:
			for {
				select {
				case ev := <-r.events:
					r.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *relay) handle(ev Event) {
	peer := ev.Session.PeerID()
	switch ev.Kind {
	case EventConnected:
		// Stats buckets appear on the first record or merge for an origin.
		r.observer.PeerConnected(peer)
		r.logger.Info("peer connected", "peer_id", peer)
	case EventDisconnected:
		r.observer.PeerDisconnected(peer)
		r.logger.Info("peer disconnected", "peer_id", peer)
	case EventReceived:
		if err := ev.Envelope.Validate(); err != nil {
			r.logger.Warn("dropping invalid envelope", "peer_id", peer, "error", err)
			return
		}
		r.onReceived(peer, ev.Envelope)
	}
}

// run serves until ctx ends, then stops in order: stop accepting, flush the
// control loop, drain the queue within the shutdown timeout, stop the worker.
func (r *relay) run(ctx context.Context, work queue.ProcessFunc) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- r.server.Serve(ctx) }()

	controlDone := make(chan struct{})
	go func() {
		defer close(controlDone)
		r.controlLoop()
	}()
	workerErr := make(chan error, 1)
	go func() { workerErr <- r.queue.Run(context.Background(), work) }()

	var result *multierror.Error
	if err := <-serveErr; err != nil {
		result = multierror.Append(result, fmt.Errorf("serve: %w", err))
		_ = r.server.Close()
	}
	r.life.stopping()

	close(r.quit)
	<-controlDone
	r.logger.Info("stopping", "pending", r.queue.Len())

	drainCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout())
	defer cancel()
	if err := r.queue.Drain(drainCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if dropped := r.queue.Stop(); dropped > 0 {
		r.logger.Warn("queue items dropped at shutdown", "dropped", dropped)
	}
	if err := <-workerErr; err != nil {
		result = multierror.Append(result, fmt.Errorf("worker: %w", err))
	}
	return result.ErrorOrNil()
}

func (r *relay) shutdownTimeout() time.Duration {
	if r.cfg.ShutdownTimeout > 0 {
		return r.cfg.ShutdownTimeout
	}
	return 20 * time.Second
}
