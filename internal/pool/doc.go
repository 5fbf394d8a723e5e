// Package pool owns the backend-selection and health engine: the set of
// configured backends, the precomputed structures the selection policies
// read from, and the connection-lifecycle hooks the proxy adapter and the
// health prober call into.
//
// Everything in this package is synchronized by a single mutex; the pool
// is the only shared mutable resource in the module and every public
// method is safe for concurrent use.
package pool
