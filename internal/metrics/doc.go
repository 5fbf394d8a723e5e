// Package metrics serves a JSON snapshot endpoint: worker pid, total
// requests handled, the pool's own snapshot, process uptime, and memory
// usage.
//
// Completed-request notifications arrive over a buffered, non-blocking
// channel — the request path never waits on the metrics goroutine.
package metrics
