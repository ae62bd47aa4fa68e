package poll

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/logging"
	"fortwave/netclient/internal/protocol"
)

// DefaultInterval is the fallback poll cadence when no push transport exists.
const DefaultInterval = 150 * time.Millisecond

// taskName labels the poll ticker in scheduler diagnostics.
const taskName = "poll.sync"

// Fetch performs one combined sync round trip for everything after since.
type Fetch func(ctx context.Context, since uint64) (protocol.SyncResult, error)

// Applier is the slice of the sequence orderer the poller drives.
type Applier interface {
	Ingest(protocol.ServerMessage)
	AdvanceTo(seq uint64)
	LastApplied() uint64
}

// Counters aggregates the poller's bookkeeping for diagnostics.
type Counters struct {
	Polls    uint64 `json:"polls"`
	Failures uint64 `json:"failures"`
	Skipped  uint64 `json:"skipped"`
	Resyncs  uint64 `json:"resyncs"`
}

// Option customises poller construction.
type Option func(*Poller)

// WithInterval overrides the poll cadence.
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// Poller substitutes for a push transport by asking the server for updates on
// a short cadence. Missed messages replay through the orderer so dedupe and
// gap handling stay identical to the push path; snapshots that outran the
// backlog are synthesized as MATCH_STATE and routed directly.
type Poller struct {
	mu        sync.Mutex
	logger    *log.Logger
	scheduler clock.Scheduler
	fetch     Fetch
	applier   Applier
	route     func(protocol.ServerMessage)
	interval  time.Duration

	task     clock.Task
	inFlight bool
	counters Counters
}

// New constructs a poller; Start arms the cadence.
func New(scheduler clock.Scheduler, logger *log.Logger, fetch Fetch, applier Applier, route func(protocol.ServerMessage), opts ...Option) *Poller {
	p := &Poller{
		logger:    logging.Ensure(logger),
		scheduler: scheduler,
		fetch:     fetch,
		applier:   applier,
		route:     route,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start arms the poll ticker. Starting twice is a no-op.
func (p *Poller) Start() {
	if p == nil || p.scheduler == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		return
	}
	p.task = p.scheduler.Every(taskName, p.interval, p.tick)
}

// Stop cancels the poll ticker. An in-flight round trip finishes on its own.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Counters snapshots the poller's bookkeeping.
func (p *Poller) Counters() Counters {
	if p == nil {
		return Counters{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// tick performs one poll unless the previous one is still in flight.
func (p *Poller) tick() {
	if p.fetch == nil || p.applier == nil {
		return
	}
	p.mu.Lock()
	if p.inFlight {
		//1.- Never stack round trips; the next tick catches up.
		p.counters.Skipped++
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	since := p.applier.LastApplied()
	result, err := p.fetch(context.Background(), since)
	if err != nil {
		p.mu.Lock()
		p.counters.Failures++
		p.mu.Unlock()
		//2.- Poll failures are not disconnects; the cadence simply retries.
		p.logger.Debug().Uint64("since", since).Msgf("sync poll failed: %v", err)
		return
	}
	p.mu.Lock()
	p.counters.Polls++
	p.mu.Unlock()

	//3.- Replay the backlog through ordering for dedupe and gap handling.
	for _, msg := range result.Missed {
		p.applier.Ingest(msg)
	}

	//4.- A snapshot ahead of the cursor resyncs listeners wholesale.
	state := result.State
	if state.Seq > p.applier.LastApplied() {
		msg, err := protocol.NewSequencedMessage(protocol.TypeMatchState, state.Seq, state)
		if err != nil {
			p.logger.Warn().Msgf("could not synthesize snapshot: %v", err)
			return
		}
		p.mu.Lock()
		p.counters.Resyncs++
		p.mu.Unlock()
		p.applier.AdvanceTo(state.Seq)
		if p.route != nil {
			p.route(msg)
		}
	}
}
