package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// NATSTransport implements Transport over a NATS connection. The
// library's own reconnect machinery is disabled; the manager owns the
// backoff schedule and attempt budget so behavior is uniform across
// transports.
type NATSTransport struct {
	url string

	mu   sync.Mutex
	conn *nats.Conn

	// Connection options
	name     string
	timeout  time.Duration
	username string
	password string
	token    string

	logger Logger
}

// NATSOption is a functional option for configuring the transport
type NATSOption func(*NATSTransport)

// WithName sets the client name for identification
func WithName(name string) NATSOption {
	return func(t *NATSTransport) {
		t.name = name
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) NATSOption {
	return func(t *NATSTransport) {
		t.timeout = d
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) NATSOption {
	return func(t *NATSTransport) {
		t.username = username
		t.password = password
	}
}

// WithToken sets a token for authentication
func WithToken(token string) NATSOption {
	return func(t *NATSTransport) {
		t.token = token
	}
}

// WithTransportLogger sets a custom logger for the transport
func WithTransportLogger(logger Logger) NATSOption {
	return func(t *NATSTransport) {
		if logger == nil {
			logger = &defaultLogger{}
		}
		t.logger = logger
	}
}

// NewNATSTransport creates a NATS-backed transport for the given URL.
func NewNATSTransport(url string, opts ...NATSOption) *NATSTransport {
	t := &NATSTransport{
		url:     url,
		timeout: 5 * time.Second,
		logger:  &defaultLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// buildOptions builds NATS connection options from transport configuration.
func (t *NATSTransport) buildOptions(onDisconnect func(error)) []nats.Option {
	opts := []nats.Option{
		// Reconnects belong to the manager, not the library.
		nats.NoReconnect(),
		nats.Timeout(t.timeout),
		nats.ClosedHandler(func(conn *nats.Conn) {
			onDisconnect(conn.LastError())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			t.logger.Errorf("async error: %v", err)
		}),
	}

	if t.username != "" && t.password != "" {
		opts = append(opts, nats.UserInfo(t.username, t.password))
	}
	if t.token != "" {
		opts = append(opts, nats.Token(t.token))
	}
	if t.name != "" {
		opts = append(opts, nats.Name(t.name))
	}

	return opts
}

// Connect opens the NATS connection.
func (t *NATSTransport) Connect(ctx context.Context, onDisconnect func(error)) error {
	t.mu.Lock()
	if t.conn != nil && t.conn.IsConnected() {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(t.url, t.buildOptions(onDisconnect)...)
		if err != nil {
			connectDone <- err
			return
		}
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return errors.WrapTransient(err, "realtime", "Connect", "establish connection")
		}
		return nil
	case <-ctx.Done():
		return errors.FromContext(ctx, "realtime", "Connect")
	}
}

// Subscribe opens a subject-scoped subscription.
func (t *NATSTransport) Subscribe(topic string, handler func(data []byte)) (TransportSub, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "realtime", "Subscribe", "open subscription")
	}

	sub, err := conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"realtime", "Subscribe", "open subscription")
	}

	return &natsSub{sub: sub}, nil
}

// Request performs a request/reply round trip on a subject. Fetch paths
// use it to pull state from the backend over the same connection the
// subscriptions ride on.
func (t *NATSTransport) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "realtime", "Request", "send request")
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.Wrap(err, "realtime", "Request", "send request")
	}
	return msg.Data, nil
}

// Ping measures round-trip time to the server as a liveness probe.
func (t *NATSTransport) Ping(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "realtime", "Ping", "probe connection")
	}

	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransient(err, "realtime", "Ping", "probe connection")
	}
	return nil
}

// Close tears the connection down.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Close()
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
