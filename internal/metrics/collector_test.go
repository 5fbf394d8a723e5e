package metrics_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rileyhorn/edgelb/internal/metrics"
	"github.com/rileyhorn/edgelb/internal/pool"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelError}))
}

var _ = Describe("Collector", func() {
	It("counts observed requests asynchronously without blocking the caller", func() {
		p := pool.New([]pool.BackendSpec{{Host: "A", Port: 1, Weight: 1}}, pool.RoundRobin, discardLogger())
		c := metrics.New(p, 16, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		go c.Run(ctx)
		defer cancel()

		for i := 0; i < 5; i++ {
			c.Observe("A:1", 200, time.Millisecond)
		}

		Eventually(func() int64 { return c.Snapshot().RequestsHandled }, time.Second, 5*time.Millisecond).Should(Equal(int64(5)))
	})

	It("drains buffered events on shutdown", func() {
		p := pool.New(nil, pool.RoundRobin, discardLogger())
		c := metrics.New(p, 16, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		go c.Run(ctx)

		c.Observe("A:1", 200, time.Millisecond)
		cancel()

		Eventually(func() int64 { return c.Snapshot().RequestsHandled }, time.Second, 5*time.Millisecond).Should(Equal(int64(1)))
	})

	It("serves the documented JSON shape", func() {
		p := pool.New([]pool.BackendSpec{{Host: "A", Port: 1, Weight: 2}}, pool.WeightedRoundRobin, discardLogger())
		c := metrics.New(p, 16, discardLogger())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/metrics", nil)
		c.Handler()(rec, req)

		Expect(rec.Code).To(Equal(200))

		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKey("workerPid"))
		Expect(body).To(HaveKey("requestsHandled"))
		Expect(body).To(HaveKey("uptimeSeconds"))
		Expect(body).To(HaveKey("memoryUsage"))

		sp, ok := body["serverPool"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(sp["totalServers"]).To(Equal(1.0))
		Expect(sp["loadBalancingAlgorithm"]).To(Equal("WEIGHTED_ROUND_ROBIN"))
	})
})
