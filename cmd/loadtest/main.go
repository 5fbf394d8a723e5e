// Loadtest is a concurrent HTTP load testing tool that measures
// throughput, latency percentiles, and per-backend distribution against
// the load balancer's listener.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 10 -requests 1000
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 50 -requests 5000 -out summary.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type backendStats struct {
	count     int32
	success   int32
	failure   int32
	latencies []time.Duration
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/", "target URL")
		concurrency = flag.Int("concurrency", 10, "number of concurrent workers")
		requests    = flag.Int("requests", 100, "total number of requests to send")
		method      = flag.String("method", "GET", "HTTP method")
		timeoutSec  = flag.Int("timeout", 10, "per-request timeout in seconds")
		outJSON     = flag.String("out", "", "write a JSON summary to this file")
	)
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total, success, failure int32
	var statsMu sync.Mutex
	stats := make(map[string]*backendStats)
	var latMu sync.Mutex
	var allLatencies []time.Duration

	start := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				atomic.AddInt32(&total, 1)
				reqStart := time.Now()

				req, err := http.NewRequest(*method, *url, nil)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}

				resp, err := client.Do(req)
				dur := time.Since(reqStart)

				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}

				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				ok := resp.StatusCode >= 200 && resp.StatusCode < 300
				if ok {
					atomic.AddInt32(&success, 1)
				} else {
					atomic.AddInt32(&failure, 1)
				}

				backend := resp.Header.Get("X-Backend-Server")
				if backend == "" {
					backend = "(unknown)"
				}

				statsMu.Lock()
				bs, found := stats[backend]
				if !found {
					bs = &backendStats{}
					stats[backend] = bs
				}
				bs.count++
				if ok {
					bs.success++
				} else {
					bs.failure++
				}
				bs.latencies = append(bs.latencies, dur)
				statsMu.Unlock()
			}
		}()
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	duration := time.Since(start)
	throughput := float64(total) / duration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *url)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Total sent: %d  Success: %d  Failure: %d\n", total, success, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", duration, throughput)

	fmt.Println("\nBackend distribution:")
	statsMu.Lock()
	var keys []string
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bs := stats[k]
		p50, p95, p99 := percentiles(bs.latencies)
		fmt.Printf("  %s -> total=%d success=%d failure=%d p50=%v p95=%v p99=%v\n",
			k, bs.count, bs.success, bs.failure, p50, p95, p99)
	}
	statsMu.Unlock()

	if *outJSON != "" {
		writeJSONSummary(*outJSON, *url, *requests, *concurrency, total, success, failure, duration, throughput, stats)
	}

	if failure > 0 {
		os.Exit(2)
	}
}

func percentiles(latencies []time.Duration) (p50, p95, p99 time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pick := func(pct float64) time.Duration {
		idx := int(float64(len(sorted)-1) * pct)
		return sorted[idx]
	}
	return pick(0.50), pick(0.95), pick(0.99)
}

func writeJSONSummary(path, url string, requests, concurrency int, total, success, failure int32, duration time.Duration, throughput float64, stats map[string]*backendStats) {
	type backendSummary struct {
		Total   int32   `json:"total"`
		Success int32   `json:"success"`
		Failure int32   `json:"failure"`
		P50Ms   float64 `json:"p50_ms"`
		P95Ms   float64 `json:"p95_ms"`
		P99Ms   float64 `json:"p99_ms"`
	}

	report := map[string]any{
		"target":         url,
		"requests":       requests,
		"concurrency":    concurrency,
		"total_sent":     total,
		"success":        success,
		"failure":        failure,
		"duration_ms":    duration.Milliseconds(),
		"throughput_rps": throughput,
	}

	backends := make(map[string]backendSummary, len(stats))
	for k, bs := range stats {
		p50, p95, p99 := percentiles(bs.latencies)
		backends[k] = backendSummary{
			Total:   bs.count,
			Success: bs.success,
			Failure: bs.failure,
			P50Ms:   float64(p50.Milliseconds()),
			P95Ms:   float64(p95.Milliseconds()),
			P99Ms:   float64(p99.Milliseconds()),
		}
	}
	report["backends"] = backends

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create summary file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.Encode(report)
	fmt.Printf("\nwrote JSON summary to %s\n", path)
}
