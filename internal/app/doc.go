// Package app provides the application service layer.
//
// Scheduler owns the refresh state machine (idle, running) and hands built
// snapshots to the cache. Service is the boundary used by HTTP handlers: reads
// from the cache, manual refresh and health. Depends on ranking and domain, not
// on any adapter.
package app
