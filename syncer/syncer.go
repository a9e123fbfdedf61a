// Package syncer keeps a live view of the audience request list in sync
// with the backend. Reads are cache-first; misses fetch through the
// priority queue wrapped by the circuit breaker; fetch failures fall back
// to the last known good data and schedule a delayed refresh. Change
// events from the realtime channel invalidate the cache and trigger a
// debounced refresh. All collaborators are injected; the syncer holds no
// process-wide state of its own.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/breaker"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/cache"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/queue"
	"github.com/fusioneventsak/urequest-live-sub001/realtime"
	"github.com/fusioneventsak/urequest-live-sub001/types"
)

// Fetcher retrieves the current request list from the backend.
type Fetcher func(ctx context.Context) ([]types.Request, error)

// Config holds syncer configuration.
type Config struct {
	// CacheKey is the cache slot for the request list.
	CacheKey string `json:"cache_key"`

	// CacheTTL is how long a fetched list stays fresh.
	CacheTTL time.Duration `json:"cache_ttl"`

	// Topic is the realtime topic carrying request-change events.
	Topic string `json:"topic"`

	// Service names the breaker tracking the backend fetch path.
	Service string `json:"service"`

	// RefreshDebounce coalesces bursts of Refresh calls.
	RefreshDebounce time.Duration `json:"refresh_debounce"`

	// FailureRefreshDelay is the wait before retrying after a fetch that
	// fell back to stale data.
	FailureRefreshDelay time.Duration `json:"failure_refresh_delay"`
}

// DefaultConfig returns syncer settings for the request list view.
func DefaultConfig() Config {
	return Config{
		CacheKey:            "requests",
		CacheTTL:            30 * time.Second,
		Topic:               "requests",
		Service:             "requests",
		RefreshDebounce:     300 * time.Millisecond,
		FailureRefreshDelay: 5 * time.Second,
	}
}

// UnmarshalJSON accepts duration strings for the timing fields.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		CacheTTL            json.RawMessage `json:"cache_ttl,omitempty"`
		RefreshDebounce     json.RawMessage `json:"refresh_debounce,omitempty"`
		FailureRefreshDelay json.RawMessage `json:"failure_refresh_delay,omitempty"`
		*Alias
	}{Alias: (*Alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields := []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.CacheTTL, "cache_ttl", &c.CacheTTL},
		{aux.RefreshDebounce, "refresh_debounce", &c.RefreshDebounce},
		{aux.FailureRefreshDelay, "failure_refresh_delay", &c.FailureRefreshDelay},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		d, err := cache.ParseDurationField(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Validate checks configuration values.
func (c Config) Validate() error {
	if c.CacheKey == "" || c.Topic == "" || c.Service == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: cache_key, topic, and service are required", errors.ErrMissingConfig),
			"syncer", "Validate", "check identifiers")
	}
	if c.CacheTTL <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: cache_ttl must be positive", errors.ErrInvalidConfig),
			"syncer", "Validate", "check cache ttl")
	}
	if c.RefreshDebounce < 0 || c.FailureRefreshDelay < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: refresh delays cannot be negative", errors.ErrInvalidConfig),
			"syncer", "Validate", "check refresh delays")
	}
	return nil
}

// SubscriberHandle identifies a registered view subscriber. Dispose is
// the only way to remove it.
type SubscriberHandle struct {
	id int
	s  *Syncer
}

// Dispose removes the subscriber. Safe to call more than once.
func (h *SubscriberHandle) Dispose() {
	if h == nil || h.s == nil {
		return
	}
	h.s.mu.Lock()
	delete(h.s.subscribers, h.id)
	h.s.mu.Unlock()
	h.s = nil
}

// Syncer keeps the request list fresh for its subscribers.
type Syncer struct {
	cfg     Config
	fetch   Fetcher
	cache   cache.Cache[[]types.Request]
	breaker *breaker.Breaker
	queue   *queue.Queue[[]types.Request]
	manager *realtime.Manager

	logger  Logger
	metrics *syncerMetrics

	// group collapses concurrent misses into one backend fetch
	group singleflight.Group

	mu           sync.Mutex
	subscribers  map[int]func([]types.Request)
	nextID       int
	lastKnown    []types.Request
	hasLastKnown bool
	sub          *realtime.Subscription
	refreshTimer *time.Timer
	retryTimer   *time.Timer
	closed       bool
}

// New creates a syncer over explicitly injected collaborators.
func New(
	cfg Config,
	fetch Fetcher,
	requestCache cache.Cache[[]types.Request],
	brk *breaker.Breaker,
	q *queue.Queue[[]types.Request],
	manager *realtime.Manager,
	opts ...SyncerOption,
) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetch == nil || requestCache == nil || brk == nil || q == nil || manager == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: fetcher, cache, breaker, queue, and manager are required", errors.ErrMissingConfig),
			"syncer", "New", "check dependencies")
	}

	s := &Syncer{
		cfg:         cfg,
		fetch:       fetch,
		cache:       requestCache,
		breaker:     brk,
		queue:       q,
		manager:     manager,
		logger:      &defaultLogger{},
		subscribers: make(map[int]func([]types.Request)),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.WrapInvalid(err, "syncer", "New", "apply option")
		}
	}

	return s, nil
}

// Start opens the realtime subscription that drives invalidation. The
// manager connects lazily if it is not already up.
func (s *Syncer) Start(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("syncer is closed"),
			"syncer", "Start", "open subscription")
	}
	if s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sub, err := s.manager.Subscribe(s.cfg.Topic, s.handleChangeEvent)
	if err != nil {
		return errors.Wrap(err, "syncer", "Start", "open subscription")
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// handleChangeEvent reacts to a (debounced) change notification from the
// realtime channel: drop the cached view and refresh.
func (s *Syncer) handleChangeEvent([]byte) {
	s.logger.Debugf("change event on %s, invalidating", s.cfg.Topic)
	s.cache.Delete(s.cfg.CacheKey)
	s.Refresh()
}

// Requests returns the current request list: from cache when fresh,
// otherwise fetched through the breaker-wrapped queue. When the fetch
// fails and a previous result is known, the stale list is served and a
// delayed refresh is scheduled.
func (s *Syncer) Requests(ctx context.Context) ([]types.Request, error) {
	if cached, ok := s.cache.Get(s.cfg.CacheKey); ok {
		return cached, nil
	}

	requests, err := s.fetchThroughQueue(ctx)
	if err == nil {
		return requests, nil
	}

	if errors.IsCancelled(err) {
		s.logger.Debugf("fetch cancelled by caller")
		return nil, err
	}

	s.mu.Lock()
	stale := s.lastKnown
	hasStale := s.hasLastKnown
	s.mu.Unlock()

	if hasStale {
		s.logger.Printf("fetch failed, serving %d stale requests: %v", len(stale), err)
		if s.metrics != nil {
			s.metrics.recordStaleServed()
		}
		s.scheduleRetry()
		return stale, nil
	}

	return nil, err
}

// Refresh triggers a background fetch, coalescing bursts within the
// configured debounce window.
func (s *Syncer) Refresh() {
	s.mu.Lock()
	if s.closed || s.refreshTimer != nil {
		s.mu.Unlock()
		return
	}
	s.refreshTimer = time.AfterFunc(s.cfg.RefreshDebounce, func() {
		s.mu.Lock()
		s.refreshTimer = nil
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if s.metrics != nil {
			s.metrics.recordRefresh()
		}
		if _, err := s.fetchThroughQueue(context.Background()); err != nil {
			s.logger.Errorf("background refresh failed: %v", err)
		}
	})
	s.mu.Unlock()
}

// Invalidate drops the cached view without fetching.
func (s *Syncer) Invalidate() {
	s.cache.Delete(s.cfg.CacheKey)
}

// Subscribe registers a callback invoked with each fresh request list.
func (s *Syncer) Subscribe(fn func([]types.Request)) *SubscriberHandle {
	if fn == nil {
		return &SubscriberHandle{}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers[id] = fn
	s.mu.Unlock()
	return &SubscriberHandle{id: id, s: s}
}

// Close stops timers and the realtime subscription. Idempotent.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	sub := s.sub
	s.sub = nil
	s.subscribers = make(map[int]func([]types.Request))
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// fetchThroughQueue runs one backend fetch through the priority queue
// and the circuit breaker, caching and fanning out the result.
// Concurrent calls collapse into a single fetch.
func (s *Syncer) fetchThroughQueue(ctx context.Context) ([]types.Request, error) {
	v, err, _ := s.group.Do(s.cfg.CacheKey, func() (any, error) {
		op := func(opCtx context.Context) ([]types.Request, error) {
			return breaker.ExecuteWithResult(opCtx, s.breaker, func(bctx context.Context) ([]types.Request, error) {
				return s.fetch(bctx)
			})
		}

		ch, err := s.queue.Enqueue(op, queue.PriorityHigh, -1)
		if err != nil {
			return nil, err
		}

		select {
		case r := <-ch:
			if r.Err != nil {
				return nil, r.Err
			}
			requests := r.Value
			if requests == nil {
				requests = []types.Request{}
			}
			s.storeResult(requests)
			return requests, nil
		case <-ctx.Done():
			// The queued operation keeps running; its result will still
			// be cached when it lands.
			go func() {
				if r := <-ch; r.Err == nil {
					requests := r.Value
					if requests == nil {
						requests = []types.Request{}
					}
					s.storeResult(requests)
				}
			}()
			return nil, errors.FromContext(ctx, "syncer", "fetchThroughQueue")
		}
	})

	if s.metrics != nil {
		if err != nil {
			s.metrics.recordFetch("error")
		} else {
			s.metrics.recordFetch("success")
		}
	}
	if err != nil {
		return nil, err
	}
	return v.([]types.Request), nil
}

// storeResult caches a fresh list, remembers it for stale fallback, and
// notifies subscribers.
func (s *Syncer) storeResult(requests []types.Request) {
	s.cache.Set(s.cfg.CacheKey, requests, s.cfg.CacheTTL)

	s.mu.Lock()
	s.lastKnown = requests
	s.hasLastKnown = true
	fns := make([]func([]types.Request), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(requests)
	}
}

// scheduleRetry arms a one-shot refresh after a fetch that fell back to
// stale data. An already-armed retry is left alone.
func (s *Syncer) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.retryTimer != nil {
		return
	}
	s.retryTimer = time.AfterFunc(s.cfg.FailureRefreshDelay, func() {
		s.mu.Lock()
		s.retryTimer = nil
		s.mu.Unlock()
		s.Refresh()
	})
}
