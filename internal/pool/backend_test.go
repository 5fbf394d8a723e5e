package pool_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rileyhorn/edgelb/internal/pool"
)

var _ = Describe("NewBackend", func() {
	It("derives the stable id from host and port", func() {
		b := pool.NewBackend("10.0.0.5", 8081, 3)
		Expect(b.ID).To(Equal("10.0.0.5:8081"))
	})

	It("starts healthy with zero in-flight connections", func() {
		b := pool.NewBackend("h", 1, 1)
		Expect(b.Healthy()).To(BeTrue())
		Expect(b.ActiveConnections()).To(Equal(0))
	})

	It("clamps a non-positive weight to 1", func() {
		b := pool.NewBackend("h", 1, 0)
		Expect(b.Weight).To(Equal(1))

		b2 := pool.NewBackend("h", 1, -4)
		Expect(b2.Weight).To(Equal(1))
	})
})
