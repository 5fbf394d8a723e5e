package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rileyhorn/edgelb/internal/pool"
)

// maxProbeBody bounds how much of a health-check response body the
// prober will read when ExpectBodySubstring is set, so a misbehaving
// backend cannot make the prober buffer an unbounded response.
const maxProbeBody = 64 * 1024

// Config carries the prober's tunable knobs.
type Config struct {
	Enabled             bool
	Interval            time.Duration
	Timeout             time.Duration
	Path                string
	Method              string
	ExpectStatus        int
	ExpectBodySubstring string
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/health"
	}
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.ExpectStatus == 0 {
		c.ExpectStatus = http.StatusOK
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	return c
}

// Prober is the periodic active health checker. It is idempotent: Start
// while running clears and restarts the timer, and Stop cancels the
// timer without waiting on in-flight probes.
type Prober struct {
	cfg    Config
	pool   *pool.Pool
	logger *slog.Logger
	clock  clockwork.Clock
	client *http.Client

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New builds a Prober bound to the given pool. clock may be a real
// clockwork.NewRealClock() in production or a clockwork.NewFakeClock()
// in tests.
func New(p *pool.Pool, cfg Config, logger *slog.Logger, clock clockwork.Clock) *Prober {
	return &Prober{
		cfg:    cfg.withDefaults(),
		pool:   p,
		logger: logger,
		clock:  clock,
		client: &http.Client{},
	}
}

// Start begins probing if Config.Enabled is set: one sweep immediately,
// then one every Interval. Calling Start while already running restarts
// the timer from scratch.
func (pr *Prober) Start() {
	if !pr.cfg.Enabled {
		return
	}

	pr.mu.Lock()
	if pr.running {
		pr.stopLocked()
	}
	stop := make(chan struct{})
	pr.stopCh = stop
	pr.running = true
	pr.mu.Unlock()

	go pr.loop(stop)
}

// Stop cancels the timer. It does not block on any sweep currently in
// flight.
func (pr *Prober) Stop() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.stopLocked()
}

func (pr *Prober) stopLocked() {
	if !pr.running {
		return
	}
	close(pr.stopCh)
	pr.running = false
}

func (pr *Prober) loop(stop chan struct{}) {
	pr.sweep()

	ticker := pr.clock.NewTicker(pr.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			pr.sweep()
		}
	}
}

// sweep issues one probe per backend concurrently, awaits every
// outcome, then runs the single post-sweep hook (weighted-sequence
// rebuild).
func (pr *Prober) sweep() {
	backends := pr.pool.Backends()

	var g errgroup.Group
	for _, b := range backends {
		b := b
		g.Go(func() error {
			pr.probeOne(b)
			return nil
		})
	}
	_ = g.Wait()

	pr.pool.RebuildWeighted()
}

func (pr *Prober) probeOne(b *pool.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), pr.cfg.Timeout)
	defer cancel()

	target := fmt.Sprintf("http://%s:%d%s", b.Host, b.Port, pr.cfg.Path)

	req, err := http.NewRequestWithContext(ctx, pr.cfg.Method, target, nil)
	if err != nil {
		pr.pool.ApplyProbeResult(b.ID, false, fmt.Sprintf("malformed probe request: %v", err))
		return
	}

	resp, err := pr.client.Do(req)
	if err != nil {
		pr.pool.ApplyProbeResult(b.ID, false, fmt.Sprintf("probe failed: %v", err))
		return
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == pr.cfg.ExpectStatus

	if healthy && pr.cfg.ExpectBodySubstring != "" {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
		healthy = strings.Contains(string(body), pr.cfg.ExpectBodySubstring)
	}

	reason := fmt.Sprintf("status=%d", resp.StatusCode)
	pr.pool.ApplyProbeResult(b.ID, healthy, reason)
}
