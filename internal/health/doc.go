// Package health implements the active prober: a periodic sweep that
// probes every configured backend concurrently and feeds the outcome
// back into the pool's health flags.
//
// The sweep's concurrency is built on golang.org/x/sync/errgroup — one
// probe per backend, all awaited before the post-sweep hook runs — and
// its timer is built on a clockwork.Clock rather than time.NewTicker
// directly, so tests can drive sweeps without sleeping.
package health
