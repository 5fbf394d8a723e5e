package pool

import (
	"log/slog"
	"sync"
)

// BackendSpec is one entry of a configured or reconfigured backend list.
type BackendSpec struct {
	Host   string
	Port   int
	Weight int
}

// HealthChangeFunc is notified, outside the pool's own lock, whenever a
// health flip actually happens. Nothing in this module installs one; a
// nil HealthChangeFunc disables the notification.
type HealthChangeFunc func(id string, healthy bool)

// Pool owns the ordered backend list plus the derived selection
// structures (rrCursor, weightedSequence). Every method serializes
// through a single mutex; Pool is the sole shared mutable resource in
// the module.
type Pool struct {
	mu sync.Mutex

	logger *slog.Logger
	policy Policy
	onHealthChange HealthChangeFunc

	backends []*Backend
	byID     map[string]*Backend

	rrCursor int
	weighted []*Backend
}

// New builds a Pool from the initial backend specs. The weighted
// sequence is built eagerly only when the policy actually consumes it;
// otherwise it is left empty until the first health flip or
// reconfiguration needs it.
func New(specs []BackendSpec, policy Policy, logger *slog.Logger) *Pool {
	p := &Pool{
		logger:   logger,
		policy:   policy,
		rrCursor: -1,
		byID:     make(map[string]*Backend, len(specs)),
	}

	for _, s := range specs {
		b := NewBackend(s.Host, s.Port, s.Weight)
		p.backends = append(p.backends, b)
		p.byID[b.ID] = b
	}

	if policy.weighted() {
		p.weighted = buildWeightedSequence(p.healthySubsetLocked())
	}

	return p
}

// SetHealthChangeFunc installs the callback invoked after a real health
// flip. It must be set before the pool is used concurrently.
func (p *Pool) SetHealthChangeFunc(fn HealthChangeFunc) {
	p.mu.Lock()
	p.onHealthChange = fn
	p.mu.Unlock()
}

// Policy returns the pool's current selection policy.
func (p *Pool) Policy() Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// Pick runs the configured selection policy. A non-empty stickyID that
// names a currently healthy backend always wins; otherwise the
// configured policy runs normally. The returned backend's in-flight
// counter has already been incremented.
func (p *Pool) Pick(stickyID string) (*Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := p.healthySubsetLocked()
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	if stickyID != "" {
		if b, ok := p.byID[stickyID]; ok && b.healthy {
			b.activeConnections++
			return b, nil
		}
	}

	chosen := p.policy.selectFrom(healthy, p.weighted, &p.rrCursor, func(msg string) {
		p.logger.Warn("selection fallback", slog.String("policy", string(p.policy)), slog.String("reason", msg))
	})
	if chosen == nil {
		// Healthy set is non-empty but the policy returned nothing.
		p.logger.Warn("policy returned no backend despite healthy pool, using first healthy", slog.String("policy", string(p.policy)))
		chosen = healthy[0]
	}

	chosen.activeConnections++
	return chosen, nil
}

// Release decrements id's in-flight counter. Unknown ids and ids already
// at zero are no-ops, since reconfiguration can leave dangling
// decrements against a backend that no longer exists.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.byID[id]
	if !ok {
		return
	}
	if b.activeConnections > 0 {
		b.activeConnections--
	}
}

// MarkUnhealthy flips id to unhealthy if it is currently healthy and
// logs the transition. It is the fast-path call the proxy adapter makes
// on an upstream connection error; the prober reports its outcomes
// through ApplyProbeResult instead.
func (p *Pool) MarkUnhealthy(id string, reason string) {
	p.applyHealth(id, false, reason)
}

// ApplyProbeResult sets id's health to healthy as determined by the
// most recent probe outcome, logging only on an actual flip.
func (p *Pool) ApplyProbeResult(id string, healthy bool, reason string) {
	p.applyHealth(id, healthy, reason)
}

func (p *Pool) applyHealth(id string, healthy bool, reason string) {
	p.mu.Lock()
	b, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	if b.healthy == healthy {
		p.mu.Unlock()
		return
	}

	b.healthy = healthy
	p.rebuildWeightedLocked()
	p.mu.Unlock()

	if healthy {
		p.logger.Info("backend back up", slog.String("backend", id), slog.String("reason", reason))
	} else {
		p.logger.Warn("backend marked unhealthy", slog.String("backend", id), slog.String("reason", reason))
	}

	if p.onHealthChange != nil {
		p.onHealthChange(id, healthy)
	}
}

// RebuildWeighted recomputes the weighted sequence from the current
// healthy set. The prober calls this once after every sweep completes,
// regardless of whether any individual flip already triggered a
// rebuild.
func (p *Pool) RebuildWeighted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebuildWeightedLocked()
}

func (p *Pool) rebuildWeightedLocked() {
	p.weighted = buildWeightedSequence(p.healthySubsetLocked())
}

func (p *Pool) healthySubsetLocked() []*Backend {
	healthy := make([]*Backend, 0, len(p.backends))
	for _, b := range p.backends {
		if b.healthy {
			healthy = append(healthy, b)
		}
	}
	return healthy
}

// GetByID returns the backend with the given id, if configured.
func (p *Pool) GetByID(id string) (*Backend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.byID[id]
	return b, ok
}

// Backends returns a shallow copy of the configured backend slice, in
// configured order. Intended for the health prober to iterate over
// without holding the pool lock for the duration of a sweep.
func (p *Pool) Backends() []*Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// PoolSnapshot is the JSON-serializable view the metrics endpoint
// embeds as "serverPool".
type PoolSnapshot struct {
	TotalServers    int        `json:"totalServers"`
	HealthyServers  int        `json:"healthyServers"`
	UnhealthyServers int       `json:"unhealthyServers"`
	Algorithm       string     `json:"loadBalancingAlgorithm"`
	Servers         []Snapshot `json:"servers"`
}

// Snapshot returns a serializable view of every backend plus totals and
// the current algorithm.
func (p *Pool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := PoolSnapshot{
		TotalServers: len(p.backends),
		Algorithm:    string(p.policy),
		Servers:      make([]Snapshot, 0, len(p.backends)),
	}

	for _, b := range p.backends {
		if b.healthy {
			snap.HealthyServers++
		} else {
			snap.UnhealthyServers++
		}
		snap.Servers = append(snap.Servers, b.snapshot())
	}

	return snap
}

// ReplaceServers swaps the backend set in place: backends whose id
// survives keep their health flag and in-flight counter; new ids start
// healthy with zero connections; backends absent from the new list are
// discarded. The caller is responsible for stopping and restarting the
// health prober around this call.
func (p *Pool) ReplaceServers(specs []BackendSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()

	newBackends := make([]*Backend, 0, len(specs))
	newByID := make(map[string]*Backend, len(specs))

	for _, s := range specs {
		id := NewBackend(s.Host, s.Port, s.Weight).ID
		if existing, ok := p.byID[id]; ok {
			existing.Weight = s.Weight
			if existing.Weight < 1 {
				existing.Weight = 1
			}
			newBackends = append(newBackends, existing)
			newByID[id] = existing
			continue
		}

		b := NewBackend(s.Host, s.Port, s.Weight)
		newBackends = append(newBackends, b)
		newByID[id] = b
	}

	p.backends = newBackends
	p.byID = newByID
	p.rrCursor = -1
	p.rebuildWeightedLocked()
}
