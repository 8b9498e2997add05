// Package poller periodically sweeps contacts that have no assignment and
// routes them. It catches contacts whose inline route attempt failed open
// (no matching rule at the time, empty group, transient errors) once the
// configuration changes in their favor.
package poller

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"lead-router/internal/common/logging"
	"lead-router/internal/locks"
	"lead-router/internal/routing"
)

type Poller struct {
	orchestrator *routing.Orchestrator
	lockManager  locks.LockManagerInterface
	schedule     string
	batchSize    int
	cron         *cron.Cron
	logger       logging.Logger
}

func New(orchestrator *routing.Orchestrator, lockManager locks.LockManagerInterface, schedule string, batchSize int) *Poller {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Poller{
		orchestrator: orchestrator,
		lockManager:  lockManager,
		schedule:     schedule,
		batchSize:    batchSize,
		cron:         cron.New(),
		logger:       logging.GetGlobalLogger(),
	}
}

// Start registers the sweep on the cron schedule and starts the scheduler.
func (p *Poller) Start() error {
	_, err := p.cron.AddFunc(p.schedule, p.sweep)
	if err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Info("unrouted-contact poller started",
		logging.Field{Key: "schedule", Value: p.schedule},
		logging.Field{Key: "batch_size", Value: p.batchSize})
	return nil
}

// Stop stops the scheduler, waiting for a running sweep to finish.
func (p *Poller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// sweep routes one batch of unrouted contacts. A distributed lock elects a
// single sweeping instance; losing the election is the normal case on all
// but one instance and is not logged as a failure.
func (p *Poller) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	if p.lockManager != nil {
		lock, err := p.lockManager.AcquirePollerLock(ctx)
		if err != nil {
			p.logger.Debug("poller lock held elsewhere, skipping sweep")
			return
		}
		defer lock.Release(ctx)
	}

	results, err := p.orchestrator.RouteUnrouted(ctx, routing.TriggerContactCreated, routing.MethodAuto, p.batchSize)
	if err != nil {
		p.logger.Error("unrouted sweep failed", err)
		return
	}

	routed := 0
	for _, result := range results {
		if result.Routed {
			routed++
		}
	}
	if len(results) > 0 {
		p.logger.Info("unrouted sweep finished",
			logging.Field{Key: "processed", Value: len(results)},
			logging.Field{Key: "routed", Value: routed})
	}
}
