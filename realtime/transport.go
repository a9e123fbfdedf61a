package realtime

import (
	"context"
)

// Transport is the seam to the realtime backend. The manager owns all
// reconnect policy; a transport only opens a channel, opens per-topic
// subscriptions, answers liveness probes, and reports an asynchronous
// disconnect through the handler given to Connect.
type Transport interface {
	// Connect opens the underlying channel. onDisconnect is invoked at
	// most once per successful Connect when the channel drops.
	Connect(ctx context.Context, onDisconnect func(error)) error

	// Subscribe opens a topic-scoped subscription on the connected
	// channel. The handler receives raw event payloads.
	Subscribe(topic string, handler func(data []byte)) (TransportSub, error)

	// Ping probes channel liveness.
	Ping(ctx context.Context) error

	// Close tears the channel down. A closed transport may be connected
	// again with Connect.
	Close() error
}

// TransportSub is an open topic subscription.
type TransportSub interface {
	Unsubscribe() error
}
