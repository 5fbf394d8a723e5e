package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rileyhorn/edgelb/internal/pool"
)

// requestEvent is emitted once per completed request; its only current
// purpose is to drive the requestsHandled counter, but it carries enough
// to grow into per-status or per-duration accounting later without
// changing the call site in internal/proxy.
type requestEvent struct {
	backendID  string
	statusCode int
	duration   time.Duration
}

// Collector serves the metrics snapshot. It is built once per worker
// and wired into the proxy adapter via Observe.
type Collector struct {
	logger *slog.Logger
	pool   *pool.Pool

	eventCh chan requestEvent
	total   atomic.Int64

	startTime time.Time
	pid       int
}

// New builds a Collector over the given pool. bufferSize bounds the
// event channel; a full channel drops the event rather than blocking
// the request path on ancillary bookkeeping.
func New(p *pool.Pool, bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		logger:    logger,
		pool:      p,
		eventCh:   make(chan requestEvent, bufferSize),
		startTime: time.Now(),
		pid:       os.Getpid(),
	}
}

// Observe satisfies proxy.Observer; pass it directly as the Adapter's
// observer.
func (c *Collector) Observe(backendID string, statusCode int, duration time.Duration) {
	select {
	case c.eventCh <- requestEvent{backendID: backendID, statusCode: statusCode, duration: duration}:
	default:
		c.logger.Warn("metrics event dropped, collector backlogged")
	}
}

// Run consumes events until ctx is done, draining whatever is left in
// the channel before returning.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("metrics collector started")
	defer c.logger.Info("metrics collector stopped")

	for {
		select {
		case ev := <-c.eventCh:
			c.total.Add(1)
			_ = ev // backendID/duration are reserved for future breakdowns
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) drain() {
	for {
		select {
		case <-c.eventCh:
			c.total.Add(1)
		default:
			return
		}
	}
}

// Snapshot is the JSON body returned by the metrics endpoint.
type Snapshot struct {
	WorkerPid       int              `json:"workerPid"`
	RequestsHandled int64            `json:"requestsHandled"`
	ServerPool      pool.PoolSnapshot `json:"serverPool"`
	UptimeSeconds   float64          `json:"uptimeSeconds"`
	MemoryUsage     MemoryUsage      `json:"memoryUsage"`
}

// MemoryUsage mirrors the handful of runtime.MemStats fields that map
// onto a process memory-usage report.
type MemoryUsage struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapSysBytes   uint64 `json:"heapSysBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	NumGC          uint32 `json:"numGC"`
}

// Snapshot assembles the current metrics view. Safe to call from any
// goroutine.
func (c *Collector) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		WorkerPid:       c.pid,
		RequestsHandled: c.total.Load(),
		ServerPool:      c.pool.Snapshot(),
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
		MemoryUsage: MemoryUsage{
			HeapAllocBytes: mem.HeapAlloc,
			HeapSysBytes:   mem.HeapSys,
			SysBytes:       mem.Sys,
			NumGC:          mem.NumGC,
		},
	}
}
