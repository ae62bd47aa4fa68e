package clock

import (
	"sync"
	"time"
)

// Clock exposes the current time to components that schedule work.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

// Now implements Clock for functional adapters.
func (c clockFunc) Now() time.Time { return c() }

// systemClock relies on time.Now for production code paths.
type systemClock struct{}

// Now implements Clock by delegating to time.Now.
func (systemClock) Now() time.Time { return time.Now() }

// System returns the process wall clock.
func System() Clock { return systemClock{} }

// Task is a named, cancelable unit of scheduled work.
type Task interface {
	// Name identifies the task in logs and diagnostics.
	Name() string
	// Stop cancels the task. Stopping twice is safe.
	Stop()
}

// Scheduler provisions named timers and tickers whose lifecycles end together
// when the owning session shuts down.
type Scheduler interface {
	Clock
	// After runs fn once after delay unless the task is stopped first.
	After(name string, delay time.Duration, fn func()) Task
	// Every runs fn at the supplied interval until the task is stopped.
	Every(name string, interval time.Duration, fn func()) Task
	// Stop cancels every task the scheduler still tracks.
	Stop()
}

// noopTask satisfies Task for degenerate registrations.
type noopTask string

// Name identifies the task in logs and diagnostics.
func (n noopTask) Name() string { return string(n) }

// Stop cancels the task. Stopping twice is safe.
func (noopTask) Stop() {}

// systemScheduler backs Scheduler with runtime timers.
type systemScheduler struct {
	mu      sync.Mutex
	stopped bool
	nextID  uint64
	tasks   map[uint64]*systemTask
}

// NewScheduler returns a Scheduler backed by runtime timers.
func NewScheduler() Scheduler {
	return &systemScheduler{tasks: make(map[uint64]*systemTask)}
}

// Now implements Clock by delegating to time.Now.
func (s *systemScheduler) Now() time.Time { return time.Now() }

// After runs fn once after delay unless the task is stopped first.
func (s *systemScheduler) After(name string, delay time.Duration, fn func()) Task {
	task := s.register(name, fn)
	if task == nil {
		return noopTask(name)
	}
	if delay < 0 {
		delay = 0
	}
	//1.- Hold the task lock while arming so a zero delay cannot outrun assignment.
	task.mu.Lock()
	task.timer = time.AfterFunc(delay, func() {
		task.mu.Lock()
		if task.stopped {
			task.mu.Unlock()
			return
		}
		task.stopped = true
		task.mu.Unlock()
		s.forget(task.id)
		fn()
	})
	task.mu.Unlock()
	return task
}

// Every runs fn at the supplied interval until the task is stopped.
func (s *systemScheduler) Every(name string, interval time.Duration, fn func()) Task {
	if interval <= 0 {
		return noopTask(name)
	}
	task := s.register(name, fn)
	if task == nil {
		return noopTask(name)
	}
	task.mu.Lock()
	task.done = make(chan struct{})
	task.ticker = time.NewTicker(interval)
	ticker, done := task.ticker, task.done
	task.mu.Unlock()
	//1.- Drive the callback from a dedicated goroutine until the task stops.
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return task
}

// register tracks a new task unless the scheduler is already stopped.
func (s *systemScheduler) register(name string, fn func()) *systemTask {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.nextID++
	task := &systemTask{name: name, id: s.nextID, scheduler: s}
	s.tasks[task.id] = task
	return task
}

// forget drops a task from the registry once it fired or stopped.
func (s *systemScheduler) forget(id uint64) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Stop cancels every task the scheduler still tracks.
func (s *systemScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*systemTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[uint64]*systemTask)
	s.mu.Unlock()
	//1.- Cancel outside the lock because task.Stop re-enters the scheduler.
	for _, task := range tasks {
		task.Stop()
	}
}

// systemTask wraps a timer or ticker registered with the system scheduler.
type systemTask struct {
	name      string
	id        uint64
	scheduler *systemScheduler

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	ticker  *time.Ticker
	done    chan struct{}
}

// Name identifies the task in logs and diagnostics.
func (t *systemTask) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Stop cancels the task. Stopping twice is safe.
func (t *systemTask) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.ticker != nil {
		t.ticker.Stop()
	}
	if t.done != nil {
		close(t.done)
	}
	t.mu.Unlock()
	t.scheduler.forget(t.id)
}
