package pool_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rileyhorn/edgelb/internal/pool"
)

var _ = Describe("ParsePolicy", func() {
	It("accepts the four documented algorithm names", func() {
		for _, name := range []string{"ROUND_ROBIN", "RANDOM", "WEIGHTED_ROUND_ROBIN", "WEIGHTED_RANDOM"} {
			p, ok := pool.ParsePolicy(name)
			Expect(ok).To(BeTrue())
			Expect(string(p)).To(Equal(name))
		}
	})

	It("rejects anything else", func() {
		_, ok := pool.ParsePolicy("LEAST_CONN")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Random and weighted-random policies", func() {
	specs := []pool.BackendSpec{
		{Host: "A", Port: 1, Weight: 1},
		{Host: "B", Port: 2, Weight: 1},
		{Host: "C", Port: 3, Weight: 1},
	}

	It("random always returns a healthy member of the pool", func() {
		p := pool.New(specs, pool.Random, discardLogger())
		for i := 0; i < 50; i++ {
			b, err := p.Pick("")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Healthy()).To(BeTrue())
		}
	})

	It("weighted random distributes across all weighted entries", func() {
		wspecs := []pool.BackendSpec{
			{Host: "A", Port: 1, Weight: 5},
			{Host: "B", Port: 2, Weight: 1},
		}
		p := pool.New(wspecs, pool.WeightedRandom, discardLogger())

		seen := map[string]int{}
		for i := 0; i < 200; i++ {
			b, _ := p.Pick("")
			seen[b.ID]++
		}

		Expect(seen).To(HaveKey("A:1"))
		Expect(seen).To(HaveKey("B:2"))
		// Weight 5 should dominate weight 1 by a wide margin.
		Expect(seen["A:1"]).To(BeNumerically(">", seen["B:2"]))
	})
})
