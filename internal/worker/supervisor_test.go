package worker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rileyhorn/edgelb/internal/worker"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Suite")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("Supervisor", func() {
	It("respawns a worker that exits cleanly", func() {
		sup := worker.NewSupervisor("/bin/sh", []string{"-c", "exit 0"}, 1, nil, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sup.Run(ctx) }()

		// give it a few respawn cycles before asking it to stop.
		time.Sleep(150 * time.Millisecond)
		cancel()

		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})

	It("terminates long-running workers on shutdown", func() {
		sup := worker.NewSupervisor("/bin/sh", []string{"-c", "sleep 30"}, 2, nil, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sup.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		Eventually(done, 3*time.Second).Should(Receive(BeNil()))
	})

	It("reports a forced shutdown when a worker ignores SIGTERM", func() {
		sup := worker.NewSupervisor("/bin/sh", []string{"-c", "trap '' TERM; sleep 30"}, 1, nil, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sup.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		Eventually(done, 12*time.Second).Should(Receive(MatchError(worker.ErrForcedShutdown)))
	})
})
