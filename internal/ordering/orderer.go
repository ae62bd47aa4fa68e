package ordering

import (
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/logging"
	"fortwave/netclient/internal/protocol"
)

// DefaultFlushDelay bounds how long a sequence gap may stall delivery before
// the buffered backlog is applied anyway.
const DefaultFlushDelay = 200 * time.Millisecond

// flushTaskName labels the force-flush timer in scheduler diagnostics.
const flushTaskName = "ordering.force_flush"

// Apply consumes a message once the orderer releases it.
type Apply func(protocol.ServerMessage)

// Counters aggregates the orderer's bookkeeping for diagnostics.
type Counters struct {
	Applied       uint64 `json:"applied"`
	Exempt        uint64 `json:"exempt"`
	Duplicates    uint64 `json:"duplicates"`
	Gaps          uint64 `json:"gaps"`
	ForcedFlushes uint64 `json:"forced_flushes"`
}

// Option customises orderer construction.
type Option func(*Orderer)

// WithFlushDelay overrides how long a gap may hold back buffered messages.
func WithFlushDelay(delay time.Duration) Option {
	return func(o *Orderer) {
		if delay > 0 {
			o.flushDelay = delay
		}
	}
}

// Orderer releases sequenced server messages in strictly ascending order. Out
// of order arrivals wait in a bounded-time buffer; once the flush delay
// expires the backlog is applied as-is, trading a skipped update for liveness.
// Messages without a sequence bypass ordering entirely.
type Orderer struct {
	mu         sync.Mutex
	logger     *log.Logger
	scheduler  clock.Scheduler
	apply      Apply
	flushDelay time.Duration

	lastApplied uint64
	buffer      []protocol.ServerMessage
	ready       []protocol.ServerMessage
	draining    bool
	flushTask   clock.Task
	counters    Counters
}

// New constructs an orderer that hands released messages to apply.
func New(scheduler clock.Scheduler, logger *log.Logger, apply Apply, opts ...Option) *Orderer {
	o := &Orderer{
		logger:     logging.Ensure(logger),
		scheduler:  scheduler,
		apply:      apply,
		flushDelay: DefaultFlushDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// LastApplied reports the highest sequence released so far.
func (o *Orderer) LastApplied() uint64 {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastApplied
}

// Counters snapshots the orderer's bookkeeping.
func (o *Orderer) Counters() Counters {
	if o == nil {
		return Counters{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters
}

// BufferLen reports how many messages currently wait behind a gap.
func (o *Orderer) BufferLen() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buffer)
}

// Ingest accepts one inbound message and releases whatever became deliverable.
// It is safe to call again from inside the apply callback.
func (o *Orderer) Ingest(msg protocol.ServerMessage) {
	if o == nil || o.apply == nil {
		return
	}
	//1.- Route ordering-exempt system events immediately.
	if msg.SystemEvent() {
		o.mu.Lock()
		o.counters.Exempt++
		o.mu.Unlock()
		o.apply(msg)
		return
	}

	o.mu.Lock()
	switch {
	case msg.Seq <= o.lastApplied:
		//2.- Drop replays of anything already released.
		o.counters.Duplicates++
		o.mu.Unlock()
		o.logger.Debug().Uint64("seq", msg.Seq).Str("type", msg.Type).Msg("stale update dropped")
		return
	case msg.Seq == o.lastApplied+1:
		//3.- Release the message and whatever it unblocked in the buffer.
		o.stageLocked(msg)
		o.promoteLocked()
	default:
		//4.- Park the message behind the gap and bound the wait with a timer.
		o.counters.Gaps++
		o.insertLocked(msg)
		o.armFlushLocked()
		o.mu.Unlock()
		return
	}
	o.drainLocked()
}

// AdvanceTo jumps the release cursor forward after an authoritative snapshot
// covered everything up to seq. Buffered messages the snapshot superseded are
// discarded; newly contiguous ones are released.
func (o *Orderer) AdvanceTo(seq uint64) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if seq <= o.lastApplied {
		o.mu.Unlock()
		return
	}
	o.lastApplied = seq
	o.promoteLocked()
	o.drainLocked()
}

// Stop cancels the pending force-flush and abandons the buffered backlog.
func (o *Orderer) Stop() {
	if o == nil {
		return
	}
	o.mu.Lock()
	task := o.flushTask
	o.flushTask = nil
	o.buffer = nil
	o.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// stageLocked queues a message for release and advances the cursor so
// re-entrant ingests observe it as already covered.
func (o *Orderer) stageLocked(msg protocol.ServerMessage) {
	o.ready = append(o.ready, msg)
	o.lastApplied = msg.Seq
	o.counters.Applied++
}

// promoteLocked moves newly contiguous buffer entries to the release queue and
// retires the flush timer once the buffer empties.
func (o *Orderer) promoteLocked() {
	for len(o.buffer) > 0 {
		head := o.buffer[0]
		switch {
		case head.Seq <= o.lastApplied:
			o.counters.Duplicates++
			o.buffer = o.buffer[1:]
		case head.Seq == o.lastApplied+1:
			o.buffer = o.buffer[1:]
			o.stageLocked(head)
		default:
			return
		}
	}
	if o.flushTask != nil {
		task := o.flushTask
		o.flushTask = nil
		//1.- The gap closed on its own, so the liveness timer can retire.
		task.Stop()
	}
}

// insertLocked places the message into the buffer in ascending order, dropping
// exact sequence duplicates.
func (o *Orderer) insertLocked(msg protocol.ServerMessage) {
	idx := sort.Search(len(o.buffer), func(i int) bool { return o.buffer[i].Seq >= msg.Seq })
	if idx < len(o.buffer) && o.buffer[idx].Seq == msg.Seq {
		o.counters.Duplicates++
		return
	}
	o.buffer = append(o.buffer, protocol.ServerMessage{})
	copy(o.buffer[idx+1:], o.buffer[idx:])
	o.buffer[idx] = msg
}

// armFlushLocked starts the force-flush timer unless one is already pending.
func (o *Orderer) armFlushLocked() {
	if o.flushTask != nil || o.scheduler == nil {
		return
	}
	o.flushTask = o.scheduler.After(flushTaskName, o.flushDelay, o.forceFlush)
}

// forceFlush releases the whole backlog in ascending order, gaps included.
func (o *Orderer) forceFlush() {
	o.mu.Lock()
	o.flushTask = nil
	if len(o.buffer) == 0 {
		o.mu.Unlock()
		return
	}
	o.counters.ForcedFlushes++
	skippedFrom := o.lastApplied
	for _, msg := range o.buffer {
		if msg.Seq <= o.lastApplied {
			o.counters.Duplicates++
			continue
		}
		o.stageLocked(msg)
	}
	o.buffer = nil
	o.logger.Warn().
		Uint64("from", skippedFrom).
		Uint64("to", o.lastApplied).
		Msg("sequence gap expired, applying backlog out of band")
	o.drainLocked()
}

// drainLocked releases the ready queue in order. The caller must hold the lock;
// it is released while each message is applied so callbacks can re-enter.
func (o *Orderer) drainLocked() {
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	for {
		if len(o.ready) == 0 {
			o.draining = false
			o.mu.Unlock()
			return
		}
		msg := o.ready[0]
		o.ready = o.ready[1:]
		o.mu.Unlock()
		o.apply(msg)
		o.mu.Lock()
	}
}
