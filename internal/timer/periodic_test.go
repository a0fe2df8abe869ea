package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRepeats(t *testing.T) {
	tm := NewTimerManager(2)
	tm.Start()
	defer tm.Stop()

	var runs atomic.Int32
	require.NoError(t, tm.Every("job", 20*time.Millisecond, func() { runs.Add(1) }))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tm.Stats().PeriodicJobs)
}

func TestEverySkipsOverlappingRuns(t *testing.T) {
	tm := NewTimerManager(4)
	tm.Start()
	defer tm.Stop()

	var (
		runs    atomic.Int32
		skips   atomic.Int32
		running atomic.Int32
		overlap atomic.Bool
	)
	release := make(chan struct{})

	require.NoError(t, tm.Every("slow", 10*time.Millisecond, func() {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		defer running.Add(-1)
		runs.Add(1)
		<-release
	}, OnSkip(func() { skips.Add(1) })))

	assert.Eventually(t, func() bool { return skips.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.GreaterOrEqual(t, tm.Stats().SkippedRuns, int64(2))

	close(release)
	assert.False(t, overlap.Load())
}

func TestEveryCancel(t *testing.T) {
	tm := NewTimerManager(1)
	tm.Start()
	defer tm.Stop()

	var runs atomic.Int32
	require.NoError(t, tm.Every("job", 20*time.Millisecond, func() { runs.Add(1) }))
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, tm.Cancel("job"))
	time.Sleep(30 * time.Millisecond)
	after := runs.Load()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, after, runs.Load())
	assert.Zero(t, tm.Stats().PeriodicJobs)
}

func TestEveryRejectsBadInterval(t *testing.T) {
	tm := NewTimerManager(1)
	assert.ErrorIs(t, tm.Every("job", 0, func() {}), ErrInvalidPeriod)
}
