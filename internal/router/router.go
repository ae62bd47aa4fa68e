package router

import (
	"sync"

	"github.com/phuslu/log"

	"fortwave/netclient/internal/logging"
	"fortwave/netclient/internal/protocol"
)

// Listener consumes routed server messages. Listeners run on the routing
// goroutine and must not block.
type Listener func(protocol.ServerMessage)

// listenerEntry pairs a registration name with its callback.
type listenerEntry struct {
	name string
	fn   Listener
}

// Router fans inbound server messages out to named listeners in registration
// order. A listener that panics is logged and skipped without disturbing its
// siblings, so one broken consumer cannot stall the rest of the client.
type Router struct {
	mu       sync.Mutex
	logger   *log.Logger
	order    []string
	entries  map[string]Listener
	failures uint64
}

// New constructs an empty router.
func New(logger *log.Logger) *Router {
	return &Router{
		logger:  logging.Ensure(logger),
		entries: make(map[string]Listener),
	}
}

// Add registers a listener under the supplied name. Re-adding an existing name
// is a no-op so wiring code can stay idempotent.
func (r *Router) Add(name string, fn Listener) bool {
	if r == nil || name == "" || fn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return false
	}
	//1.- Track insertion order separately so dispatch stays deterministic.
	r.entries[name] = fn
	r.order = append(r.order, name)
	return true
}

// Remove deregisters the named listener. Removing an unknown name is a no-op.
func (r *Router) Remove(name string) bool {
	if r == nil || name == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		return false
	}
	delete(r.entries, name)
	for i, candidate := range r.order {
		if candidate == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len reports how many listeners are registered.
func (r *Router) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Failures reports how many listener invocations panicked so far.
func (r *Router) Failures() uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Dispatch delivers the message to every listener registered at call time.
// Listeners added or removed by a callback take effect on the next dispatch.
func (r *Router) Dispatch(msg protocol.ServerMessage) {
	if r == nil {
		return
	}
	//1.- Snapshot under the lock so callbacks may mutate registrations freely.
	r.mu.Lock()
	snapshot := make([]listenerEntry, 0, len(r.order))
	for _, name := range r.order {
		snapshot = append(snapshot, listenerEntry{name: name, fn: r.entries[name]})
	}
	r.mu.Unlock()
	//2.- Deliver outside the lock, isolating each listener's failures.
	for _, entry := range snapshot {
		r.deliver(entry, msg)
	}
}

// deliver invokes one listener, absorbing panics so siblings still run.
func (r *Router) deliver(entry listenerEntry, msg protocol.ServerMessage) {
	defer func() {
		if cause := recover(); cause != nil {
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
			r.logger.Error().
				Str("listener", entry.name).
				Str("type", msg.Type).
				Msgf("listener panicked: %v", cause)
		}
	}()
	entry.fn(msg)
}
