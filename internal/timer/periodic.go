package timer

import (
	"sync/atomic"
	"time"
)

type periodicJob struct {
	id       string
	interval time.Duration
	fn       func()
	onSkip   func()
	running  atomic.Bool
	skipped  atomic.Int64
}

// PeriodicOption customises a periodic job
type PeriodicOption func(*periodicJob)

// OnSkip registers a hook called when a tick is dropped because the
// previous run is still executing.
func OnSkip(fn func()) PeriodicOption {
	return func(j *periodicJob) { j.onSkip = fn }
}

// Every runs fn now and then every interval until the job is cancelled or the
// manager stops. Ticks are scheduled from the tick time, not from the end of
// the run, and a tick arriving while fn is still running is skipped.
func (tm *TimerManager) Every(id string, interval time.Duration, fn func(), opts ...PeriodicOption) error {
	if interval <= 0 {
		return ErrInvalidPeriod
	}

	job := &periodicJob{id: id, interval: interval, fn: fn}
	for _, opt := range opts {
		opt(job)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.periodic[id] = job
	return tm.scheduleLocked(id, time.Now(), func() { tm.tick(job) })
}

func (tm *TimerManager) tick(job *periodicJob) {
	tm.mu.Lock()
	if tm.periodic[job.id] != job {
		tm.mu.Unlock()
		return
	}
	_ = tm.scheduleLocked(job.id, time.Now().Add(job.interval), func() { tm.tick(job) })
	tm.mu.Unlock()

	if !job.running.CompareAndSwap(false, true) {
		job.skipped.Add(1)
		if job.onSkip != nil {
			job.onSkip()
		}
		return
	}
	defer job.running.Store(false)

	job.fn()
}
