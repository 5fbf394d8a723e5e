package crashguard_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rileyhorn/edgelb/internal/crashguard"
)

var _ = Describe("Registry", func() {
	var registry *crashguard.Registry

	BeforeEach(func() {
		registry = crashguard.NewRegistry(100*time.Millisecond, 30*time.Second)
	})

	Describe("Get", func() {
		It("creates a guard for an unknown worker ID", func() {
			g := registry.Get("worker-0")
			Expect(g).NotTo(BeNil())
			Expect(g.Allow()).To(BeTrue())
		})

		It("returns the same guard for the same worker ID", func() {
			g1 := registry.Get("worker-0")
			g2 := registry.Get("worker-0")
			Expect(g1).To(BeIdenticalTo(g2))
		})

		It("returns distinct guards for distinct worker IDs", func() {
			g1 := registry.Get("worker-0")
			g2 := registry.Get("worker-1")
			Expect(g1).NotTo(BeIdenticalTo(g2))
		})
	})

	Describe("concurrent access", func() {
		It("creates exactly one guard under concurrent Get calls", func() {
			const goroutines = 100

			var wg sync.WaitGroup
			wg.Add(goroutines)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					Expect(registry.Get("worker-0")).NotTo(BeNil())
				}()
			}
			wg.Wait()

			Expect(registry.Stats()).To(HaveLen(1))
		})
	})

	Describe("Reset", func() {
		It("clears every tracked guard", func() {
			registry.Get("worker-0")
			registry.Get("worker-1")
			Expect(registry.Stats()).To(HaveLen(2))

			registry.Reset()
			Expect(registry.Stats()).To(HaveLen(0))
		})
	})

	Describe("Stats", func() {
		It("reports the backoff state of every known worker", func() {
			registry.Get("worker-0")
			tripped := registry.Get("worker-1")
			tripped.RecordFailure()
			tripped.RecordFailure()

			stats := registry.Stats()
			Expect(stats).To(HaveLen(2))
			Expect(stats["worker-0"].ConsecutiveFailures).To(Equal(0))
			Expect(stats["worker-1"].ConsecutiveFailures).To(Equal(2))
			Expect(stats["worker-1"].Cooldown).To(BeNumerically(">", 0))
		})
	})
})
