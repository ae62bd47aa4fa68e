package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests, advanced explicitly instead of
// by wall time.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  uint64
	entries []*manualEntry
}

// manualEntry records one armed timer or ticker.
type manualEntry struct {
	id       uint64
	name     string
	due      time.Time
	interval time.Duration
	fn       func()
	owner    *Manual
	stopped  bool
}

// NewManual constructs a manual scheduler starting at the supplied instant.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return &Manual{now: start}
}

// Now reports the scheduler's current instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After runs fn once after delay unless the task is stopped first.
func (m *Manual) After(name string, delay time.Duration, fn func()) Task {
	return m.add(name, delay, 0, fn)
}

// Every runs fn at the supplied interval until the task is stopped.
func (m *Manual) Every(name string, interval time.Duration, fn func()) Task {
	if interval <= 0 {
		return noopTask(name)
	}
	return m.add(name, interval, interval, fn)
}

// add arms an entry relative to the scheduler's current instant.
func (m *Manual) add(name string, delay, interval time.Duration, fn func()) Task {
	if fn == nil {
		return noopTask(name)
	}
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry := &manualEntry{
		id:       m.nextID,
		name:     name,
		due:      m.now.Add(delay),
		interval: interval,
		fn:       fn,
		owner:    m,
	}
	m.entries = append(m.entries, entry)
	return entry
}

// Advance moves the clock forward, firing due entries in due order. Callbacks
// may schedule or stop tasks; work that becomes due inside the window runs too.
func (m *Manual) Advance(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		entry := m.nextDueLocked(target)
		if entry == nil {
			break
		}
		//1.- Jump the clock to the entry so callbacks observe its due instant.
		if entry.due.After(m.now) {
			m.now = entry.due
		}
		if entry.interval > 0 {
			entry.due = entry.due.Add(entry.interval)
		} else {
			m.removeLocked(entry.id)
		}
		fn := entry.fn
		//2.- Release the lock while running so callbacks can reschedule.
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// nextDueLocked returns the earliest live entry due at or before target.
func (m *Manual) nextDueLocked(target time.Time) *manualEntry {
	var best *manualEntry
	for _, entry := range m.entries {
		if entry.stopped || entry.due.After(target) {
			continue
		}
		if best == nil || entry.due.Before(best.due) || (entry.due.Equal(best.due) && entry.id < best.id) {
			best = entry
		}
	}
	return best
}

// removeLocked drops the entry with the supplied id.
func (m *Manual) removeLocked(id uint64) {
	for i, entry := range m.entries {
		if entry.id == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Stop cancels every armed entry.
func (m *Manual) Stop() {
	m.mu.Lock()
	for _, entry := range m.entries {
		entry.stopped = true
	}
	m.entries = nil
	m.mu.Unlock()
}

// Pending lists the names of armed entries ordered by due time, for assertions.
func (m *Manual) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make([]*manualEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if !entry.stopped {
			live = append(live, entry)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].due.Equal(live[j].due) {
			return live[i].id < live[j].id
		}
		return live[i].due.Before(live[j].due)
	})
	names := make([]string, 0, len(live))
	for _, entry := range live {
		names = append(names, entry.name)
	}
	return names
}

// Name identifies the task in logs and diagnostics.
func (e *manualEntry) Name() string {
	if e == nil {
		return ""
	}
	return e.name
}

// Stop cancels the task. Stopping twice is safe.
func (e *manualEntry) Stop() {
	if e == nil || e.owner == nil {
		return
	}
	e.owner.mu.Lock()
	e.stopped = true
	e.owner.removeLocked(e.id)
	e.owner.mu.Unlock()
}
