package tasks

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager handles the execution of scheduled tasks
type Manager struct {
	mu    sync.Mutex
	tasks []Task
}

// Task represents a scheduled task that needs to be executed
type Task interface {
	Name() string
	Start()
	Stop()
}

// NewManager creates a new task manager
func NewManager() *Manager {
	return &Manager{
		tasks: make([]Task, 0),
	}
}

// RegisterTask registers a task with the manager
func (m *Manager) RegisterTask(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// StartScheduledTasks starts all registered tasks
func (m *Manager) StartScheduledTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		task.Start()
	}
	log.Info().Int("count", len(m.tasks)).Msg("Started all scheduled tasks")
}

// StopAllTasks stops all running tasks
func (m *Manager) StopAllTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		task.Stop()
	}
	log.Info().Msg("Stopped all scheduled tasks")
}

// Sweeper drops expired entries and reports how many it removed
type Sweeper interface {
	Sweep() int
}

// SessionSweepTask periodically purges expired sessions and tokens from the
// in-memory session store
type SessionSweepTask struct {
	store    Sweeper
	interval time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewSessionSweepTask creates a new sweep task
func NewSessionSweepTask(store Sweeper, interval time.Duration) *SessionSweepTask {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SessionSweepTask{
		store:    store,
		interval: interval,
	}
}

func (t *SessionSweepTask) Name() string { return "session-sweep" }

// Start begins the sweep loop; starting a running task is a no-op
func (t *SessionSweepTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopChan != nil {
		return
	}
	t.stopChan = make(chan struct{})
	t.done = make(chan struct{})

	go t.run(t.stopChan, t.done)
	log.Info().Dur("interval", t.interval).Msg("Session sweep task started")
}

// Stop terminates the sweep loop and waits for it to exit
func (t *SessionSweepTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopChan == nil {
		return
	}
	close(t.stopChan)
	<-t.done
	t.stopChan = nil
	log.Info().Msg("Session sweep task stopped")
}

func (t *SessionSweepTask) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := t.store.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("Swept expired sessions")
			}
		case <-stop:
			return
		}
	}
}
