// Package realtime manages a single logical publish/subscribe channel to
// the backend. It owns the reconnect state machine (exponential backoff
// with jitter, bounded attempts), a periodic heartbeat, per-topic event
// debouncing, and listener fan-out. Consumers observe connection phases
// through listener handles; failures are never raised synchronously out
// of the event path.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// Phase is the connection lifecycle phase.
type Phase int

// Connection phases
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseError
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners on every phase change. Err is set when
// the phase is PhaseError; Terminal marks reconnect exhaustion.
type Event struct {
	Phase    Phase
	Err      error
	Terminal bool
}

// ListenerHandle identifies a registered listener. Dispose is the only
// way to remove it.
type ListenerHandle struct {
	id int
	m  *Manager
}

// Dispose removes the listener. Safe to call more than once.
func (h *ListenerHandle) Dispose() {
	if h == nil || h.m == nil {
		return
	}
	h.m.mu.Lock()
	delete(h.m.listeners, h.id)
	h.m.mu.Unlock()
	h.m = nil
}

// Manager is the reconnect state machine for one realtime channel.
type Manager struct {
	transport Transport
	cfg       Config
	logger    Logger
	metrics   *managerMetrics

	mu          sync.Mutex
	phase       Phase
	attempts    int
	terminalErr error
	closed      bool

	listeners  map[int]func(Event)
	subs       map[int]*Subscription
	nextID     int
	generation int

	// events feeds the single dispatch goroutine so listeners observe
	// phase changes in order
	events       chan Event
	dispatchStop chan struct{}

	reconnectTimer *time.Timer

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// NewManager creates a connection manager over the given transport.
func NewManager(transport Transport, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nil transport", errors.ErrInvalidConfig),
			"realtime", "NewManager", "check transport")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		transport:    transport,
		cfg:          cfg,
		logger:       &defaultLogger{},
		phase:        PhaseDisconnected,
		listeners:    make(map[int]func(Event)),
		subs:         make(map[int]*Subscription),
		events:       make(chan Event, 64),
		dispatchStop: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.WrapInvalid(err, "realtime", "NewManager", "apply option")
		}
	}

	go m.dispatchEvents()

	return m, nil
}

// dispatchEvents fans phase changes out to listeners, one event at a
// time, preserving order.
func (m *Manager) dispatchEvents() {
	for {
		select {
		case <-m.dispatchStop:
			return
		case event := <-m.events:
			m.mu.Lock()
			fns := make([]func(Event), 0, len(m.listeners))
			for _, fn := range m.listeners {
				fns = append(fns, fn)
			}
			m.mu.Unlock()

			for _, fn := range fns {
				fn(event)
			}
		}
	}
}

// Phase returns the current connection phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Attempts returns the current consecutive failed-connect count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// TerminalErr returns the exhaustion error once reconnect attempts are
// spent, nil otherwise.
func (m *Manager) TerminalErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalErr
}

// IsHealthy returns true if the channel is connected.
func (m *Manager) IsHealthy() bool {
	return m.Phase() == PhaseConnected
}

// AddListener registers a phase-change listener and returns its handle.
func (m *Manager) AddListener(fn func(Event)) *ListenerHandle {
	if fn == nil {
		return &ListenerHandle{}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return &ListenerHandle{id: id, m: m}
}

// Init opens the channel if it is not already open or opening. A failed
// attempt schedules a reconnect on the backoff curve; once the attempt
// budget is spent the manager reports a terminal error and stops.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("manager is closed"),
			"realtime", "Init", "open channel")
	}
	if m.phase == PhaseConnected || m.phase == PhaseConnecting {
		m.mu.Unlock()
		return nil
	}
	m.setPhaseLocked(PhaseConnecting, nil, false)
	gen := m.generation
	m.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err := m.transport.Connect(connectCtx, func(cause error) { m.handleDisconnect(gen, cause) })
	cancel()

	if err != nil {
		m.handleConnectFailure(err)
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = m.transport.Close()
		return nil
	}
	m.attempts = 0
	m.terminalErr = nil
	m.setPhaseLocked(PhaseConnected, nil, false)
	pending := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		pending = append(pending, sub)
	}
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.logger.Printf("channel connected")

	// Flush subscriptions registered while the channel was down.
	for _, sub := range pending {
		m.openSubscription(sub)
	}

	return nil
}

// handleConnectFailure advances the backoff schedule after a failed
// attempt, or surfaces the terminal state when the budget is spent.
func (m *Manager) handleConnectFailure(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts

	if attempt >= m.cfg.Reconnect.MaxAttempts {
		terminal := errors.WrapExhausted(
			fmt.Errorf("%w after %d attempts: %w", errors.ErrMaxReconnects, attempt, cause),
			"realtime", "Init", "reconnect")
		m.terminalErr = terminal
		m.setPhaseLocked(PhaseError, terminal, true)
		m.mu.Unlock()
		m.logger.Errorf("giving up after %d connect attempts: %v", attempt, cause)
		return
	}

	delay := m.cfg.Reconnect.Delay(attempt)
	m.setPhaseLocked(PhaseDisconnected, cause, false)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		if m.metrics != nil {
			m.metrics.recordReconnect()
		}
		_ = m.Init(context.Background())
	})
	m.mu.Unlock()

	m.logger.Printf("connect attempt %d failed, retrying in %v: %v", attempt, delay, cause)
}

// handleDisconnect reacts to a transport-level disconnect. The generation
// guard drops stale notifications from connections already torn down.
func (m *Manager) handleDisconnect(gen int, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.generation || m.phase != PhaseConnected {
		m.mu.Unlock()
		return
	}
	m.setPhaseLocked(PhaseDisconnected, cause, false)
	m.stopHeartbeatLocked()
	m.detachSubscriptionsLocked()
	m.mu.Unlock()

	m.logger.Printf("channel disconnected: %v", cause)
	go func() { _ = m.Init(context.Background()) }()
}

// Reconnect tears down all topic subscriptions and the channel, then
// re-initializes from a clean slate.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("manager is closed"),
			"realtime", "Reconnect", "reopen channel")
	}
	m.stopHeartbeatLocked()
	m.stopReconnectTimerLocked()
	m.detachSubscriptionsLocked()
	m.generation++
	m.attempts = 0
	m.terminalErr = nil
	m.setPhaseLocked(PhaseDisconnected, nil, false)
	m.mu.Unlock()

	if err := m.transport.Close(); err != nil {
		m.logger.Errorf("close before reconnect: %v", err)
	}
	if m.metrics != nil {
		m.metrics.recordReconnect()
	}

	return m.Init(ctx)
}

// Cleanup tears everything down: heartbeat, pending reconnects, topic
// subscriptions, listeners, and the channel itself. Idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopHeartbeatLocked()
	m.stopReconnectTimerLocked()
	close(m.dispatchStop)
	m.generation++

	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[int]*Subscription)
	m.listeners = make(map[int]func(Event))
	m.phase = PhaseDisconnected
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if m.metrics != nil {
		m.metrics.updatePhase(PhaseDisconnected)
		m.metrics.updateSubscriptions(0)
	}
	if err := m.transport.Close(); err != nil {
		m.logger.Errorf("cleanup: %v", err)
	}
	m.logger.Debugf("manager cleaned up")
}

// NotifyOnline is the hook for the host environment's offline-to-online
// signal: it re-initializes the channel if it is not currently up.
func (m *Manager) NotifyOnline() {
	m.checkConnection("network online")
}

// NotifyVisible is the hook for the host environment's hidden-to-visible
// signal: it re-initializes the channel if it is not currently up.
func (m *Manager) NotifyVisible() {
	m.checkConnection("page visible")
}

func (m *Manager) checkConnection(trigger string) {
	m.mu.Lock()
	if m.closed || m.phase == PhaseConnected || m.phase == PhaseConnecting {
		m.mu.Unlock()
		return
	}
	// The environment changed; a fresh attempt budget is warranted.
	m.attempts = 0
	m.terminalErr = nil
	m.stopReconnectTimerLocked()
	m.mu.Unlock()

	m.logger.Printf("connection check triggered: %s", trigger)
	go func() { _ = m.Init(context.Background()) }()
}

// setPhaseLocked records a phase change and queues it for listener
// dispatch. Must be called with mutex held. Delivery is asynchronous so
// a slow listener cannot stall the state machine; when the event buffer
// is full the notification is dropped rather than blocking.
func (m *Manager) setPhaseLocked(phase Phase, err error, terminal bool) {
	if m.phase == phase && !terminal {
		return
	}
	m.phase = phase
	if m.metrics != nil {
		m.metrics.updatePhase(phase)
	}

	select {
	case m.events <- Event{Phase: phase, Err: err, Terminal: terminal}:
	default:
		m.logger.Errorf("listener event buffer full, dropping %s notification", phase)
	}
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// startHeartbeatLocked starts the liveness probe loop. Must be called
// with mutex held.
func (m *Manager) startHeartbeatLocked() {
	if m.cfg.HeartbeatInterval <= 0 || m.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.heartbeatStop = stop
	m.heartbeatDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
				err := m.transport.Ping(ctx)
				cancel()
				if err == nil {
					continue
				}
				// One failed probe is treated as a dead channel.
				if m.metrics != nil {
					m.metrics.recordHeartbeatFailure()
				}
				m.logger.Errorf("heartbeat failed, reconnecting: %v", err)
				go func() { _ = m.Reconnect(context.Background()) }()
				return
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
		m.heartbeatDone = nil
	}
}
