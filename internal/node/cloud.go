package node

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/minhtran241/edge-computing-models/internal/algorithm"
	"github.com/minhtran241/edge-computing-models/internal/config"
	"github.com/minhtran241/edge-computing-models/internal/model"
	"github.com/minhtran241/edge-computing-models/internal/queue"
)

// CloudServer is the last hop. It processes payloads whose architecture is
// Cloud and stores every other payload's data as an already final result.
// It never dials out.
type CloudServer struct {
	*relay

	results   *resultStore
	received  atomic.Uint64
	processed atomic.Uint64
}

func NewCloudServer(cfg config.Config, deps Deps) (*CloudServer, error) {
	cfg.Role = config.RoleCloud
	deps, err := deps.withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	s := &CloudServer{
		relay:   newRelay(cfg, deps, "cloud"),
		results: newResultStore(),
	}
	s.onReceived = s.route
	return s, nil
}

// Results returns the final results attributed to origin.
func (s *CloudServer) Results(origin string) []Result {
	return s.results.get(origin)
}

// Counters reports received and processed payload counts.
func (s *CloudServer) Counters() (received, processed uint64) {
	return s.received.Load(), s.processed.Load()
}

// Run serves until ctx ends.
func (s *CloudServer) Run(ctx context.Context) error {
	if err := s.life.start(); err != nil {
		return err
	}
	defer s.life.stopped()

	if err := s.listen(); err != nil {
		return err
	}
	close(s.ready)

	return s.run(ctx, s.work)
}

func (s *CloudServer) route(peer string, env model.Envelope) {
	origin := originOf(peer, env)
	switch env.Kind() {
	case model.KindPayload:
		n := s.received.Add(1)
		s.logger.Info("payload received", "origin", origin, "received", n)
		if env.Payload.Architecture == model.ArchCloud {
			if err := s.queue.Enqueue(peer, env); err != nil {
				s.logger.Warn("payload rejected", "origin", origin, "error", err)
			}
			return
		}
		s.store(origin, *env.Payload)
	case model.KindStats:
		s.stats.MergeReport(origin, *env.Stats)
		s.logger.Info("stats report merged", "origin", origin,
			"acc_transtime", env.Stats.AccTransmission, "acc_proctime", env.Stats.AccProcessing)
	}
}

func (s *CloudServer) work(_ context.Context, it queue.Item) error {
	p := *it.Envelope.Payload
	origin := originOf(it.PeerID, it.Envelope)

	algo, err := algorithm.Parse(p.Algorithm)
	if err != nil {
		return fmt.Errorf("%w: %v", algorithm.ErrProcessing, err)
	}
	out, took, err := algo.Timed(p.Data)
	if err != nil {
		return err
	}
	s.stats.RecordLocalProcessing(origin, took)
	p.Data = out

	n := s.processed.Add(1)
	s.logger.Info("payload processed", "origin", origin, "processed", n, "took", took)
	s.store(origin, p)
	return nil
}

func (s *CloudServer) store(origin string, p model.Payload) {
	s.stats.RecordResult(origin, p.DataSize)
	s.results.add(origin, Result{Algorithm: p.Algorithm, DataSize: p.DataSize, Data: p.Data})
	s.observer.PayloadHandled(origin)
}
