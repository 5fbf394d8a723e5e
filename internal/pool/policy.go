package pool

import "math/rand/v2"

// Policy names one of the four selection strategies. Policies are
// stateless except for the cursor the Pool maintains on their behalf; a
// single cursor is shared by both round-robin variants.
type Policy string

const (
	RoundRobin         Policy = "ROUND_ROBIN"
	Random             Policy = "RANDOM"
	WeightedRoundRobin Policy = "WEIGHTED_ROUND_ROBIN"
	WeightedRandom     Policy = "WEIGHTED_RANDOM"
)

// ParsePolicy validates a configured algorithm name. It neither warns
// nor defaults: an unrecognized value yields ok==false and the caller
// decides how to react (config warns and falls back to
// WEIGHTED_ROUND_ROBIN).
func ParsePolicy(name string) (Policy, bool) {
	switch Policy(name) {
	case RoundRobin, Random, WeightedRoundRobin, WeightedRandom:
		return Policy(name), true
	default:
		return "", false
	}
}

// weighted indicates whether the policy consumes the weighted sequence
// rather than the plain healthy subset.
func (p Policy) weighted() bool {
	return p == WeightedRoundRobin || p == WeightedRandom
}

// selectFrom runs the selection algorithm against the live healthy
// subset and the live weighted sequence. rrCursor is advanced in place.
// For any of the four known policies it never returns nil when the
// healthy subset is non-empty; an unknown policy returns nil, which
// Pool.Pick guards against by falling back to the first healthy backend.
func (p Policy) selectFrom(healthy []*Backend, weighted []*Backend, rrCursor *int, warn func(string)) *Backend {
	switch p {
	case Random:
		return healthy[rand.IntN(len(healthy))]

	case RoundRobin:
		*rrCursor = (*rrCursor + 1) % len(healthy)
		return healthy[*rrCursor]

	case WeightedRandom:
		if len(weighted) > 0 {
			return weighted[rand.IntN(len(weighted))]
		}
		warn("weighted sequence empty, falling back to round-robin")
		*rrCursor = (*rrCursor + 1) % len(healthy)
		return healthy[*rrCursor]

	case WeightedRoundRobin:
		if len(weighted) > 0 {
			*rrCursor = (*rrCursor + 1) % len(weighted)
			return weighted[*rrCursor]
		}
		warn("weighted sequence empty, falling back to round-robin")
		*rrCursor = (*rrCursor + 1) % len(healthy)
		return healthy[*rrCursor]

	default:
		return nil
	}
}

// buildWeightedSequence flattens healthy into the canonical weighted
// sequence: each backend repeated Weight times, in configured order.
func buildWeightedSequence(healthy []*Backend) []*Backend {
	total := 0
	for _, b := range healthy {
		total += b.Weight
	}

	seq := make([]*Backend, 0, total)
	for _, b := range healthy {
		for i := 0; i < b.Weight; i++ {
			seq = append(seq, b)
		}
	}
	return seq
}
