// Package transporttest provides an in-memory transport adapter for driving
// session and poller tests without sockets: connections are granted or refused
// from a script and frames are injected by hand.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fortwave/netclient/internal/protocol"
	"fortwave/netclient/internal/transport"
)

// ErrRefused is returned for connection attempts the script refuses.
var ErrRefused = errors.New("transporttest: connection refused")

// Adapter is a scriptable transport.Adapter.
type Adapter struct {
	mu       sync.Mutex
	refusals int
	connects int
	conns    []*Conn
}

// NewAdapter constructs an adapter that grants every connection by default.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// RefuseNext makes the next n connection attempts fail.
func (a *Adapter) RefuseNext(n int) {
	a.mu.Lock()
	a.refusals = n
	a.mu.Unlock()
}

// Connects reports how many connection attempts were made, refused included.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Last returns the most recently granted connection, or nil.
func (a *Adapter) Last() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// Connect implements transport.Adapter against the script.
func (a *Adapter) Connect(_ context.Context, channel transport.Channel, callbacks transport.Callbacks) (transport.Conn, error) {
	a.mu.Lock()
	a.connects++
	if a.refusals > 0 {
		a.refusals--
		a.mu.Unlock()
		return nil, ErrRefused
	}
	conn := &Conn{channel: channel, callbacks: callbacks}
	a.conns = append(a.conns, conn)
	a.mu.Unlock()
	if callbacks.OnConnect != nil {
		callbacks.OnConnect()
	}
	return conn, nil
}

// Conn is one scripted connection.
type Conn struct {
	channel   transport.Channel
	callbacks transport.Callbacks

	mu     sync.Mutex
	closed bool
}

// Channel reports what the session subscribed to.
func (c *Conn) Channel() transport.Channel {
	return c.channel
}

// Closed reports whether the connection was torn down from either side.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Disconnect implements transport.Conn; no callbacks fire afterwards.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Deliver injects one server message as a wire frame.
func (c *Conn) Deliver(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transporttest: encode frame: %w", err)
	}
	c.DeliverRaw(data)
	return nil
}

// DeliverRaw injects raw bytes, junk included, unless the link is closed.
func (c *Conn) DeliverRaw(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.callbacks.OnMessage == nil {
		return
	}
	c.callbacks.OnMessage(data)
}

// DropLink simulates an uncontrolled remote loss.
func (c *Conn) DropLink(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect(reason)
	}
}
