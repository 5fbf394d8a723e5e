// Testbackend is a minimal upstream HTTP server for exercising the
// load balancer by hand: it answers /health for the active prober and
// echoes request details on every other path, tagging each response
// with its own listening port so a client can see which backend
// answered.
//
// Usage:
//
//	go run ./cmd/testbackend -port 9001
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
)

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

func main() {
	port := flag.Int("port", 9001, "port to listen on")
	failAfter := flag.Int("fail-after", 0, "start failing /health after this many probes (0 disables)")
	flag.Parse()

	var healthProbes int64

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&healthProbes, 1)
		if *failAfter > 0 && n > int64(*failAfter) {
			http.Error(w, "forced unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"requestId": newRequestID(),
			"backend":   fmt.Sprintf("127.0.0.1:%d", *port),
			"method":    r.Method,
			"path":      r.URL.Path,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend-Server", fmt.Sprintf("127.0.0.1:%d", *port))
		json.NewEncoder(w).Encode(resp)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("testbackend listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
