package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// Subscription is a registered topic subscription. Unsubscribe is the
// only removal path; the manager re-opens the underlying transport
// subscription across reconnects for as long as the handle is live.
type Subscription struct {
	id    int
	topic string
	cb    func(data []byte)
	m     *Manager

	filter func(data []byte) bool

	mu     sync.Mutex
	tsub   TransportSub
	timer  *time.Timer
	latest []byte
	closed bool
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*Subscription)

// WithFilter drops events the predicate rejects before debouncing.
func WithFilter(filter func(data []byte) bool) SubscribeOption {
	return func(s *Subscription) {
		s.filter = filter
	}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.m == nil {
		return
	}
	m := s.m

	m.mu.Lock()
	delete(m.subs, s.id)
	count := len(m.subs)
	m.mu.Unlock()

	s.close()
	if m.metrics != nil {
		m.metrics.updateSubscriptions(count)
	}
}

// close detaches from the transport and stops any pending debounce.
func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	tsub := s.tsub
	s.tsub = nil
	s.latest = nil
	s.mu.Unlock()

	if tsub != nil {
		if err := tsub.Unsubscribe(); err != nil {
			s.m.logger.Errorf("unsubscribe %s: %v", s.topic, err)
		}
	}
}

// detach drops the transport subscription but keeps the handle live so
// the manager can re-open it after a reconnect.
func (s *Subscription) detach() {
	s.mu.Lock()
	s.tsub = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.latest = nil
	s.mu.Unlock()
}

// deliver coalesces bursts of events within the debounce window into a
// single callback invocation carrying the latest payload.
func (s *Subscription) deliver(data []byte) {
	if s.filter != nil && !s.filter(data) {
		return
	}

	window := s.m.cfg.DebounceWindow
	if window <= 0 {
		s.cb(data)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.latest = data
	if s.timer != nil {
		s.timer.Reset(window)
		s.mu.Unlock()
		if s.m.metrics != nil {
			s.m.metrics.recordCoalesced()
		}
		return
	}
	s.timer = time.AfterFunc(window, s.flush)
	s.mu.Unlock()
}

// flush fires the coalesced callback.
func (s *Subscription) flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	data := s.latest
	s.latest = nil
	s.timer = nil
	s.mu.Unlock()

	s.cb(data)
}

// Subscribe registers a callback for a topic. When the channel is down
// the subscription is queued and Init is triggered; it opens once the
// channel comes up. Events on the same topic arriving within the
// debounce window coalesce into one callback invocation.
func (m *Manager) Subscribe(topic string, cb func(data []byte), opts ...SubscribeOption) (*Subscription, error) {
	if topic == "" || cb == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: topic and callback are required", errors.ErrInvalidConfig),
			"realtime", "Subscribe", "register subscription")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.WrapInvalid(
			fmt.Errorf("manager is closed"),
			"realtime", "Subscribe", "register subscription")
	}
	m.nextID++
	sub := &Subscription{
		id:    m.nextID,
		topic: topic,
		cb:    cb,
		m:     m,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	m.subs[sub.id] = sub
	count := len(m.subs)
	connected := m.phase == PhaseConnected
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.updateSubscriptions(count)
	}

	if connected {
		m.openSubscription(sub)
	} else {
		go func() { _ = m.Init(context.Background()) }()
	}

	return sub, nil
}

// openSubscription attaches a registered subscription to the transport.
// A failed open is retried after ResubscribeDelay for as long as the
// handle and the channel are still live.
func (m *Manager) openSubscription(sub *Subscription) {
	sub.mu.Lock()
	if sub.closed || sub.tsub != nil {
		sub.mu.Unlock()
		return
	}
	sub.mu.Unlock()

	tsub, err := m.transport.Subscribe(sub.topic, sub.deliver)
	if err != nil {
		m.logger.Errorf("subscribe %s failed, retrying in %v: %v", sub.topic, m.cfg.ResubscribeDelay, err)
		time.AfterFunc(m.cfg.ResubscribeDelay, func() {
			m.mu.Lock()
			_, live := m.subs[sub.id]
			connected := m.phase == PhaseConnected
			m.mu.Unlock()
			if live && connected {
				m.openSubscription(sub)
			}
		})
		return
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		_ = tsub.Unsubscribe()
		return
	}
	sub.tsub = tsub
	sub.mu.Unlock()

	m.logger.Debugf("subscribed to %s", sub.topic)
}

// detachSubscriptionsLocked drops all transport subscriptions while
// keeping the handles registered. Must be called with the manager mutex
// held.
func (m *Manager) detachSubscriptionsLocked() {
	for _, sub := range m.subs {
		sub.detach()
	}
}

// SubscriptionCount returns the number of registered subscriptions.
func (m *Manager) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
