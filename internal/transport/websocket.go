package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phuslu/log"

	"fortwave/netclient/internal/logging"
)

// defaultHandshakeTimeout bounds the websocket upgrade.
const defaultHandshakeTimeout = 10 * time.Second

// closeGracePeriod bounds how long Disconnect waits to flush the close frame.
const closeGracePeriod = time.Second

// WebsocketOption customises the websocket adapter.
type WebsocketOption func(*WebsocketAdapter)

// WithDialer overrides the gorilla dialer, mainly for tests.
func WithDialer(dialer *websocket.Dialer) WebsocketOption {
	return func(a *WebsocketAdapter) {
		if dialer != nil {
			a.dialer = dialer
		}
	}
}

// WebsocketAdapter opens push channels over the match service's websocket
// endpoint. One adapter may serve many sequential connections.
type WebsocketAdapter struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *log.Logger
}

// NewWebsocketAdapter constructs an adapter rooted at a ws:// or wss:// URL.
func NewWebsocketAdapter(baseURL string, logger *log.Logger, opts ...WebsocketOption) *WebsocketAdapter {
	adapter := &WebsocketAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		dialer:  &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		logger:  logging.Ensure(logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter
}

// Connect dials the stream for the supplied channel and starts pumping
// inbound frames into the callbacks.
func (a *WebsocketAdapter) Connect(ctx context.Context, channel Channel, callbacks Callbacks) (Conn, error) {
	if a == nil {
		return nil, fmt.Errorf("transport: adapter not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target := fmt.Sprintf("%s/matches/%s/stream?player=%s",
		a.baseURL, url.PathEscape(channel.MatchID), url.QueryEscape(channel.PlayerID))
	//1.- Dial under the caller's context so aborted attempts stop promptly.
	conn, resp, err := a.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}
	wc := &websocketConn{conn: conn, callbacks: callbacks, logger: a.logger}
	if callbacks.OnConnect != nil {
		callbacks.OnConnect()
	}
	//2.- Pump frames on a dedicated goroutine until the link dies.
	go wc.readLoop()
	return wc, nil
}

// websocketConn adapts one gorilla connection to the Conn contract.
type websocketConn struct {
	conn      *websocket.Conn
	callbacks Callbacks
	logger    *log.Logger

	mu     sync.Mutex
	closed bool
}

// readLoop forwards inbound frames and reports the eventual link loss.
func (c *websocketConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if c.isClosed() {
			return
		}
		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(data)
		}
	}
}

// finish reports an uncontrolled loss exactly once.
func (c *websocketConn) finish(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
	c.logger.Debug().Msgf("push channel lost: %v", reason)
	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect(reason)
	}
}

// isClosed reports whether the connection was torn down.
func (c *websocketConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Disconnect closes the channel and silences its callbacks.
func (c *websocketConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	//1.- Offer the server a close frame before dropping the socket.
	deadline := time.Now().Add(closeGracePeriod)
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
	_ = c.conn.WriteControl(websocket.CloseMessage, message, deadline)
	return c.conn.Close()
}
