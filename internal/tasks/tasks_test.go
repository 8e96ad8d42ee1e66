package tasks

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls int32
}

func (s *countingSweeper) Sweep() int {
	atomic.AddInt32(&s.calls, 1)
	return 1
}

func (s *countingSweeper) count() int32 {
	return atomic.LoadInt32(&s.calls)
}

func TestSessionSweepTaskRunsUntilStopped(t *testing.T) {
	sweeper := &countingSweeper{}
	task := NewSessionSweepTask(sweeper, 10*time.Millisecond)

	m := NewManager()
	m.RegisterTask(task)
	m.StartScheduledTasks()
	// Starting twice does not spawn a second loop.
	task.Start()

	assert.Eventually(t, func() bool { return sweeper.count() >= 3 }, time.Second, 5*time.Millisecond)

	m.StopAllTasks()
	stopped := sweeper.count()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, sweeper.count())

	// Stopping again is harmless.
	task.Stop()
}

func TestSessionSweepTaskDefaultInterval(t *testing.T) {
	task := NewSessionSweepTask(&countingSweeper{}, 0)
	assert.Equal(t, 10*time.Minute, task.interval)
	assert.Equal(t, "session-sweep", task.Name())
}
