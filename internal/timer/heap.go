package timer

import (
	"container/heap"
	"sync"
	"time"
)

// TimerTask represents a task scheduled for future execution
type TimerTask struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// timerHeap is a min-heap of TimerTasks ordered by ExpiryAt
type timerHeap []*TimerTask

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	n := len(*h)
	task := x.(*TimerTask)
	task.index = n
	*h = append(*h, task)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// TimerManager runs scheduled tasks on a fixed worker pool. Tasks live in a
// min-heap keyed by expiry; a single scheduler goroutine hands due tasks to
// the workers.
type TimerManager struct {
	heap     timerHeap
	mu       sync.Mutex
	wakeup   chan struct{}
	queue    chan *TimerTask
	tasks    map[string]*TimerTask // for O(1) lookup by ID
	periodic map[string]*periodicJob
	workers  int
	workerWg sync.WaitGroup
	stopped  bool
	stopCh   chan struct{}
}

// NewTimerManager creates a new timer manager with a worker pool
func NewTimerManager(workers int) *TimerManager {
	if workers < 1 {
		workers = 1
	}
	tm := &TimerManager{
		heap:     make(timerHeap, 0),
		wakeup:   make(chan struct{}, 1),
		queue:    make(chan *TimerTask, workers*4),
		tasks:    make(map[string]*TimerTask),
		periodic: make(map[string]*periodicJob),
		workers:  workers,
		stopCh:   make(chan struct{}),
	}
	heap.Init(&tm.heap)
	return tm
}

// Start starts the timer manager and its worker pool
func (tm *TimerManager) Start() {
	for i := 0; i < tm.workers; i++ {
		tm.workerWg.Add(1)
		go tm.worker()
	}

	go tm.run()
}

// Stop stops the scheduler and waits for running callbacks to return,
// including those started on overflow goroutines
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	close(tm.stopCh)
	tm.mu.Unlock()

	tm.workerWg.Wait()
}

// Schedule adds a new task to be executed at the specified time. A pending
// task with the same ID is replaced.
func (tm *TimerManager) Schedule(id string, expiryAt time.Time, callback func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.scheduleLocked(id, expiryAt, callback)
}

func (tm *TimerManager) scheduleLocked(id string, expiryAt time.Time, callback func()) error {
	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[id]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, id)
	}

	task := &TimerTask{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&tm.heap, task)
	tm.tasks[id] = task

	// Wake up the scheduler if this is the earliest task
	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a scheduled task. A periodic job stops repeating.
func (tm *TimerManager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	_, periodic := tm.periodic[id]
	delete(tm.periodic, id)

	task, ok := tm.tasks[id]
	if !ok {
		return periodic
	}

	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// run is the main scheduler loop
func (tm *TimerManager) run() {
	for {
		tm.mu.Lock()

		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if tm.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			nextTask := tm.heap[0]
			waitDuration = time.Until(nextTask.ExpiryAt)

			if waitDuration <= 0 {
				task := heap.Pop(&tm.heap).(*TimerTask)
				delete(tm.tasks, task.ID)
				tm.mu.Unlock()

				tm.dispatch(task)
				continue
			}
		}

		tm.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.stopCh:
			timer.Stop()
			return
		}
	}
}

// dispatch hands a due task to the pool. When every worker is busy and the
// queue is full the task gets its own goroutine rather than stalling the
// scheduler.
func (tm *TimerManager) dispatch(task *TimerTask) {
	select {
	case tm.queue <- task:
	case <-tm.stopCh:
	default:
		tm.mu.Lock()
		if tm.stopped {
			tm.mu.Unlock()
			return
		}
		// counted before Stop can start waiting
		tm.workerWg.Add(1)
		tm.mu.Unlock()

		go func() {
			defer tm.workerWg.Done()
			task.Callback()
		}()
	}
}

// worker executes due tasks until the manager stops
func (tm *TimerManager) worker() {
	defer tm.workerWg.Done()

	for {
		select {
		case task := <-tm.queue:
			task.Callback()
		case <-tm.stopCh:
			return
		}
	}
}

// Stats returns statistics about the timer manager
func (tm *TimerManager) Stats() TimerStats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	stats := TimerStats{
		ScheduledTasks: len(tm.tasks),
		PeriodicJobs:   len(tm.periodic),
		Workers:        tm.workers,
	}
	for _, job := range tm.periodic {
		stats.SkippedRuns += job.skipped.Load()
	}
	return stats
}

// TimerStats contains statistics about the timer manager
type TimerStats struct {
	ScheduledTasks int
	PeriodicJobs   int
	SkippedRuns    int64
	Workers        int
}

var (
	ErrManagerStopped = &TimerError{"timer manager is stopped"}
	ErrInvalidPeriod  = &TimerError{"period must be positive"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
