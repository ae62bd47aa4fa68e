package transport

import "context"

// Channel identifies the realtime stream a session subscribes to.
type Channel struct {
	MatchID  string
	PlayerID string
}

// Callbacks receives lifecycle notifications from an established connection.
// OnDisconnect fires at most once and only for losses the local side did not
// request; after Disconnect returns, no callbacks are delivered at all.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func(reason error)
	OnMessage    func(data []byte)
}

// Conn is one established push channel.
type Conn interface {
	// Disconnect closes the channel and silences its callbacks. Closing an
	// already-closed channel is a no-op.
	Disconnect() error
}

// Adapter opens push channels to the realtime feed. Implementations promise
// nothing about ordering or duplication; sequencing is restored above this
// layer.
type Adapter interface {
	Connect(ctx context.Context, channel Channel, callbacks Callbacks) (Conn, error)
}
