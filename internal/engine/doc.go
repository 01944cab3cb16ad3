// Package engine implements event dispatch and the shutdown synchronizer.
//
// The Engine is constructed once at startup and passed to every component
// that raises events or registers workers. Nothing here is a package-level
// singleton, so tests run any number of engines side by side.
//
// ARCHITECTURE:
//
// Worker Dispatch:
// Workers are kept sorted by priority. Dispatch runs every worker whose
// predicate accepts the event, lowest priority first, on the caller's
// goroutine. A worker that fails or panics is isolated; its failure is
// reported once through the failure sinks after the pass.
//
// Priority bands:
// SysPrio < MinPrio <= user workers < MaxPrio < cleanup band.
// The system workers registered by New:
//   - SysPrio+1 "shutdown first": registers the event's chain
//   - SysPrio+2 "free all collections": releases collections on shutdown
//   - MaxPrio+2 "shutdown handler": drops connections on shutdown
//   - MaxPrio+3 "shutdown last": releases the chain, stops a drained engine
//
// Event Queue:
// ProcessEvent enqueues to a FIFO drained by the single Run goroutine and
// returns an async.Future settled when that event's pass completes.
//
// Shutdown Synchronizer:
// running → draining → stopped. Shutdown moves to draining and queues the
// shutdown event behind earlier events; the engine stops when the active
// chain set is empty.
// ShutdownNow stops at once. Teardown runs exactly once either way.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Event ids come from Clock.Next(). Wall-clock time never orders events.
//
// Chains:
// Work that outlives a dispatch pass is started with Engine.Go and tracked
// as a Chain until it returns. Workers never block a pass waiting for it.
package engine
