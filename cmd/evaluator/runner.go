package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/metrics"
)

// JobLocker is the run-lock used to keep one execution of a job in flight
// across replicas
type JobLocker interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (release func(), ok bool, err error)
	Refresh(ctx context.Context, job string, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, job string) (string, error)
}

// JobRunner runs one named evaluator job
type JobRunner interface {
	Run(ctx context.Context, job string) error
}

type guardedRunner struct {
	ctx     context.Context
	locker  JobLocker
	runner  JobRunner
	lockTTL time.Duration
	timeout time.Duration // per lock operation
	log     zerolog.Logger
}

// run executes job under its run-lock. The lock is refreshed for as long as
// the run lasts; the run itself is only bounded per collaborator call.
func (g *guardedRunner) run(job string) {
	lctx, cancel := context.WithTimeout(g.ctx, g.timeout)
	release, ok, err := g.locker.Acquire(lctx, job, g.lockTTL)
	cancel()
	if err != nil {
		metrics.JobRuns.WithLabelValues(job, "lock_error").Inc()
		g.log.Error().Err(err).Str("job", job).Msg("failed to acquire job lock")
		return
	}
	if !ok {
		metrics.JobRuns.WithLabelValues(job, "locked").Inc()
		g.logHolder(job)
		return
	}
	defer release()

	ctx, stop := context.WithCancel(g.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.keepAlive(ctx, job)
	}()

	// Run records its own metrics and logs
	_ = g.runner.Run(ctx, job)
	stop()
	<-done
}

func (g *guardedRunner) keepAlive(ctx context.Context, job string) {
	interval := g.lockTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(ctx, g.timeout)
		ok, err := g.locker.Refresh(rctx, job, g.lockTTL)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Warn().Err(err).Str("job", job).Msg("failed to refresh job lock")
			continue
		}
		if !ok {
			g.log.Warn().Str("job", job).Msg("job lock lost during run")
			return
		}
	}
}

func (g *guardedRunner) logHolder(job string) {
	ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
	defer cancel()

	holder, err := g.locker.Holder(ctx, job)
	if err != nil {
		g.log.Debug().Err(err).Str("job", job).Msg("job already running elsewhere")
		return
	}
	g.log.Debug().Str("job", job).Str("holder", holder).Msg("job already running elsewhere")
}

func (g *guardedRunner) skipped(job string) func() {
	return func() {
		metrics.JobRuns.WithLabelValues(job, "skipped").Inc()
		g.log.Warn().Str("job", job).Msg("previous run still in progress, tick skipped")
	}
}
