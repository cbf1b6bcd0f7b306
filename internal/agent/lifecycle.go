package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/minhtran241/edge-computing-models/internal/report"
)

func (a *Agent) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The iot role ends on its own; take the helpers down with it.
		defer cancel()
		a.health.SetRunning(true)
		defer a.health.SetRunning(false)
		return a.runRole(gctx)
	})
	g.Go(func() error {
		return a.sampler.Run(gctx)
	})
	if a.cfg.AdminAddr != "" {
		g.Go(func() error {
			return a.runAdmin(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown prints whatever stats were gathered, complete or not, and
// records them when a report path is configured.
func (a *Agent) shutdown(ctx context.Context) error {
	snaps := a.snapshots()
	for _, s := range snaps {
		fmt.Fprintf(a.out, "\n%s (%s)\n", s.Name, a.cfg.Role)
		s.Snapshot.Render(a.out, a.cfg.Architecture)
	}
	if a.cfg.ReportPath == "" {
		return nil
	}

	rec, err := report.Open(a.cfg.ReportPath)
	if err != nil {
		return err
	}
	var result *multierror.Error
	finished := time.Now()
	for _, s := range snaps {
		id, err := rec.Record(ctx, report.Run{
			Role:         string(a.cfg.Role),
			NodeID:       s.Name,
			Algorithm:    a.cfg.Algorithm.String(),
			Architecture: string(a.cfg.Architecture),
			StreamMode:   string(a.cfg.StreamMode),
			Iterations:   a.cfg.Iterations,
			StartedAt:    a.startedAt,
			FinishedAt:   finished,
		}, s.Snapshot)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("record %s: %w", s.Name, err))
			continue
		}
		a.logger.Info("run recorded", "run_id", id, "node", s.Name, "path", a.cfg.ReportPath)
	}
	if err := rec.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
