// Package urequest is the client-side resilience layer for the uRequest
// Live song-request system. It keeps a local view of the live request
// list usable while the network is not: a bounded TTL+LRU cache absorbs
// reads, a per-service circuit breaker stops hammering a failing
// backend, a priority queue meters and retries outbound fetches, and a
// reconnect state machine keeps the realtime channel alive across
// drops. The syncer package composes these into a cache-first,
// stale-tolerant view of the request list.
//
// # Layout
//
//   - errors: classified error taxonomy shared by every package
//   - pkg/retry: exponential backoff with jitter
//   - pkg/cache: bounded cache (entry count, byte budget, per-entry TTL)
//   - pkg/breaker: circuit breaker and named-service registry
//   - pkg/queue: priority request queue with retry and staleness sweep
//   - realtime: connection manager and NATS transport
//   - syncer: sync orchestrator over the four primitives
//   - health, metric, config: daemon ambient concerns
//   - cmd/urequest-syncd: the daemon
//
// Each primitive is independently constructed and injected; nothing in
// this module holds process-global state.
package urequest
