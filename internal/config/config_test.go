package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/rileyhorn/edgelb/internal/config"
	"github.com/rileyhorn/edgelb/internal/pool"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var tempDir, prevDir string

	BeforeEach(func() {
		viper.Reset()

		var err error
		tempDir, err = os.MkdirTemp("", "edgelb-config-*")
		Expect(err).NotTo(HaveOccurred())

		prevDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		Expect(os.Chdir(tempDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(prevDir)).To(Succeed())
		os.RemoveAll(tempDir)
		os.Unsetenv("LOAD_BALANCING_ALGORITHM")
	})

	writeConfig := func(body string) {
		Expect(os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(body), 0o644)).To(Succeed())
	}

	Describe("Load", func() {
		Context("with a valid config file", func() {
			BeforeEach(func() {
				writeConfig(`
environment: "dev"
log_level: "info"
port: 8080
num_workers: 2
load_balancing_algorithm: "ROUND_ROBIN"
servers:
  - host: "127.0.0.1"
    port: 9001
    weight: 1
  - host: "127.0.0.1"
    port: 9002
    weight: 1
sticky_session:
  enabled: true
health_check:
  enabled: true
proxy_timeout_ms: 5000
proxy_connect_timeout_ms: 1000
`)
			})

			It("loads without error", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("parses the backend list", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Servers).To(HaveLen(2))
				Expect(cfg.BackendSpecs()).To(ConsistOf(
					pool.BackendSpec{Host: "127.0.0.1", Port: 9001, Weight: 1},
					pool.BackendSpec{Host: "127.0.0.1", Port: 9002, Weight: 1},
				))
			})

			It("resolves the configured policy", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Policy()).To(Equal(pool.RoundRobin))
			})
		})

		Context("with an unrecognized algorithm", func() {
			BeforeEach(func() {
				writeConfig(`
environment: "dev"
log_level: "info"
port: 8080
num_workers: 1
load_balancing_algorithm: "LEAST_CONN"
servers:
  - host: "127.0.0.1"
    port: 9001
    weight: 1
`)
			})

			It("defaults to WEIGHTED_ROUND_ROBIN instead of failing", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Policy()).To(Equal(pool.WeightedRoundRobin))
			})
		})

		Context("with no backends configured", func() {
			BeforeEach(func() {
				writeConfig(`
environment: "dev"
log_level: "info"
port: 8080
num_workers: 1
servers: []
`)
			})

			It("fails validation", func() {
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with HTTPS enabled and no TLS material or HTTP fallback", func() {
			BeforeEach(func() {
				writeConfig(`
environment: "dev"
log_level: "info"
port: 0
num_workers: 1
enable_https: true
servers:
  - host: "127.0.0.1"
    port: 9001
    weight: 1
`)
			})

			It("fails validation as a fatal ConfigInvalid", func() {
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with an environment variable override", func() {
			BeforeEach(func() {
				writeConfig(`
environment: "dev"
log_level: "info"
port: 8080
num_workers: 1
load_balancing_algorithm: "ROUND_ROBIN"
servers:
  - host: "127.0.0.1"
    port: 9001
    weight: 1
`)
				os.Setenv("LOAD_BALANCING_ALGORITHM", "RANDOM")
			})

			It("takes precedence over the file value", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Policy()).To(Equal(pool.Random))
			})
		})
	})
})
