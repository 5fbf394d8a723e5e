package pool

import "errors"

// ErrNoHealthyBackend is returned by Pick when the healthy subset is
// empty. The proxy adapter maps this to a 503.
var ErrNoHealthyBackend = errors.New("pool: no healthy backend available")
