package input

import (
	"math"
	"sync"
	"time"

	"github.com/phuslu/log"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/logging"
)

// DefaultInterval is the outbound input cadence. Movement is sampled far more
// often than the server wants to hear about it; one sample per tick is enough.
const DefaultInterval = 100 * time.Millisecond

// taskName labels the flush ticker in scheduler diagnostics.
const taskName = "input.flush"

// Send ships one aggregated movement sample stamped at the given instant.
type Send func(dx, dz float64, at time.Time)

// Counters aggregates the aggregator's bookkeeping for diagnostics.
type Counters struct {
	Sent       uint64 `json:"sent"`
	Superseded uint64 `json:"superseded"`
	Held       uint64 `json:"held"`
	Rejected   uint64 `json:"rejected"`
}

// Option customises aggregator construction.
type Option func(*Aggregator)

// WithInterval overrides the flush cadence.
func WithInterval(interval time.Duration) Option {
	return func(a *Aggregator) {
		if interval > 0 {
			a.interval = interval
		}
	}
}

// sample is the single pending movement slot.
type sample struct {
	dx float64
	dz float64
}

// Aggregator coalesces high-frequency movement input into at most one wire
// sample per tick. Newer vectors overwrite older unsent ones, and nothing is
// sent while the connection is down; the slot simply waits for the next tick.
type Aggregator struct {
	mu        sync.Mutex
	logger    *log.Logger
	scheduler clock.Scheduler
	live      func() bool
	send      Send
	interval  time.Duration

	pending  *sample
	task     clock.Task
	counters Counters
}

// New constructs an aggregator; Start arms the cadence.
func New(scheduler clock.Scheduler, logger *log.Logger, live func() bool, send Send, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:    logging.Ensure(logger),
		scheduler: scheduler,
		live:      live,
		send:      send,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Start arms the flush ticker. Starting twice is a no-op.
func (a *Aggregator) Start() {
	if a == nil || a.scheduler == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.task != nil {
		return
	}
	a.task = a.scheduler.Every(taskName, a.interval, a.flush)
}

// Stop cancels the flush ticker and drops whatever is still pending.
func (a *Aggregator) Stop() {
	if a == nil {
		return
	}
	a.mu.Lock()
	task := a.task
	a.task = nil
	a.pending = nil
	a.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Queue records a movement vector, superseding any unsent one. Non-finite
// components cannot be encoded as JSON and would fail the whole action later,
// so those samples are dropped here.
func (a *Aggregator) Queue(dx, dz float64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !finiteVector(dx, dz) {
		a.counters.Rejected++
		return
	}
	if a.pending != nil {
		a.counters.Superseded++
	}
	a.pending = &sample{dx: dx, dz: dz}
}

// Counters snapshots the aggregator's bookkeeping.
func (a *Aggregator) Counters() Counters {
	if a == nil {
		return Counters{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// flush sends the pending sample, if any, once per tick.
func (a *Aggregator) flush() {
	a.mu.Lock()
	if a.pending == nil {
		a.mu.Unlock()
		return
	}
	if a.live != nil && !a.live() {
		//1.- Hold the slot while disconnected; the sample stays latest-wins.
		a.counters.Held++
		a.mu.Unlock()
		return
	}
	pending := *a.pending
	a.pending = nil
	a.counters.Sent++
	send := a.send
	a.mu.Unlock()
	//2.- Ship outside the lock so Queue never blocks on the wire.
	if send != nil {
		send(pending.dx, pending.dz, a.scheduler.Now())
	}
}

// finiteVector reports whether both components are representable on the wire.
func finiteVector(dx, dz float64) bool {
	if math.IsNaN(dx) || math.IsInf(dx, 0) {
		return false
	}
	if math.IsNaN(dz) || math.IsInf(dz, 0) {
		return false
	}
	return true
}
