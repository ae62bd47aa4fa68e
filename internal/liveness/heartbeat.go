package liveness

import (
	"sync"
	"time"

	"github.com/phuslu/log"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/logging"
)

// DefaultInterval keeps sessions visible to the server's idle eviction without
// meaningfully adding traffic.
const DefaultInterval = 15 * time.Second

// taskName labels the heartbeat ticker in scheduler diagnostics.
const taskName = "liveness.heartbeat"

// Beat ships one liveness beacon stamped at the given instant. Delivery is
// best effort; a missed beat is repaired by the next one.
type Beat func(at time.Time)

// Option customises heartbeat construction.
type Option func(*Heartbeat)

// WithInterval overrides the beat cadence.
func WithInterval(interval time.Duration) Option {
	return func(h *Heartbeat) {
		if interval > 0 {
			h.interval = interval
		}
	}
}

// Heartbeat emits periodic liveness beacons while the session is live.
type Heartbeat struct {
	mu        sync.Mutex
	logger    *log.Logger
	scheduler clock.Scheduler
	live      func() bool
	beat      Beat
	interval  time.Duration

	task clock.Task
	sent uint64
}

// New constructs a heartbeat emitter; Start arms the cadence.
func New(scheduler clock.Scheduler, logger *log.Logger, live func() bool, beat Beat, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		logger:    logging.Ensure(logger),
		scheduler: scheduler,
		live:      live,
		beat:      beat,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Start arms the beat ticker. Starting twice is a no-op.
func (h *Heartbeat) Start() {
	if h == nil || h.scheduler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task != nil {
		return
	}
	h.task = h.scheduler.Every(taskName, h.interval, h.tick)
}

// Stop cancels the beat ticker.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	task := h.task
	h.task = nil
	h.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Sent reports how many beacons were emitted.
func (h *Heartbeat) Sent() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}

// tick emits one beacon when the session is live.
func (h *Heartbeat) tick() {
	if h.live != nil && !h.live() {
		return
	}
	h.mu.Lock()
	h.sent++
	beat := h.beat
	h.mu.Unlock()
	if beat != nil {
		beat(h.scheduler.Now())
	}
}
