// Command edgelb is the load balancer's entrypoint. With num_workers <= 1
// it runs everything in a single process. With num_workers > 1 it acts
// as a supervisor: it binds the listening socket(s) itself and forks
// num_workers copies of itself, each inheriting the listener over a
// pre-passed file descriptor, via internal/worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rileyhorn/edgelb/internal/config"
	"github.com/rileyhorn/edgelb/internal/health"
	"github.com/rileyhorn/edgelb/internal/httpserver"
	"github.com/rileyhorn/edgelb/internal/metrics"
	"github.com/rileyhorn/edgelb/internal/pool"
	"github.com/rileyhorn/edgelb/internal/proxy"
	"github.com/rileyhorn/edgelb/internal/worker"
	"github.com/rileyhorn/edgelb/pkg/logger"
)

// shutdownDrain is the grace period given to in-flight requests when
// the process receives SIGINT/SIGTERM, distinct from httpserver.Server
// .Shutdown's own 5s sub-timeout.
const shutdownDrain = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment == config.EnvProd, cfg.Environment)

	if workerID := os.Getenv("EDGELB_WORKER_ID"); workerID != "" && cfg.NumWorkers > 1 {
		runWorker(log, cfg, workerID)
		return
	}

	if cfg.NumWorkers > 1 {
		runSupervisor(log, cfg)
		return
	}

	runStandalone(log, cfg)
}

// runStandalone binds its own listener(s) and serves every role itself
// — the common case for a single-worker deployment.
func runStandalone(log *slog.Logger, cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := buildPool(cfg, log)
	collector := metrics.New(p, 1024, log)
	prober := health.New(p, healthConfig(cfg), log, clockwork.NewRealClock())
	adapter := proxy.New(p, proxyConfig(cfg), log, collector.Observe)

	mux := http.NewServeMux()
	mux.Handle("/", adapter)

	srv, err := httpserver.New(fmt.Sprintf(":%d", cfg.Port), mux, nil)
	if err != nil {
		log.Error("failed to build http server", slog.Any("err", err))
		os.Exit(1)
	}

	var tlsSrv *httpserver.Server
	if cfg.EnableHTTPS {
		_, keyErr := os.Stat(cfg.SSLKeyPath)
		_, certErr := os.Stat(cfg.SSLCertPath)
		if keyErr != nil || certErr != nil {
			log.Warn("TLS key or certificate missing, HTTPS listener not started",
				slog.String("key", cfg.SSLKeyPath), slog.String("cert", cfg.SSLCertPath))
		} else {
			tlsSrv, err = httpserver.New(fmt.Sprintf(":%d", cfg.HTTPSPort), mux, &httpserver.TLSConfig{
				CertPath: cfg.SSLCertPath,
				KeyPath:  cfg.SSLKeyPath,
			})
			if err != nil {
				log.Error("failed to build https server", slog.Any("err", err))
				os.Exit(1)
			}
		}
	}

	var metricsSrv *httpserver.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.HandleFunc(cfg.Metrics.Endpoint, collector.Handler())
		metricsSrv, err = httpserver.New(fmt.Sprintf(":%d", cfg.Metrics.Port), metricsMux, nil)
		if err != nil {
			log.Error("failed to build metrics server", slog.Any("err", err))
			os.Exit(1)
		}
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	go collector.Run(collectorCtx)

	prober.Start()
	defer prober.Stop()

	errCh := make(chan error, 3)
	go func() { errCh <- srv.Start() }()
	if tlsSrv != nil {
		go func() { errCh <- tlsSrv.Start() }()
	}
	if metricsSrv != nil {
		go func() { errCh <- metricsSrv.Start() }()
	}

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, cfg.ReloadSignal())

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
			forced := false
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("http listener did not shut down within the drain window", slog.Any("err", err))
				forced = true
			}
			if tlsSrv != nil {
				if err := tlsSrv.Shutdown(shutdownCtx); err != nil {
					log.Error("https listener did not shut down within the drain window", slog.Any("err", err))
					forced = true
				}
			}
			if metricsSrv != nil {
				if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
					log.Error("metrics listener did not shut down within the drain window", slog.Any("err", err))
					forced = true
				}
			}
			cancel()
			if forced {
				os.Exit(1)
			}
			return

		case err := <-errCh:
			if err != nil {
				log.Error("server error", slog.Any("err", err))
				os.Exit(1)
			}

		case <-reloadCh:
			reload(log, p, prober)
		}
	}
}

// runWorker is the path taken by a forked worker process: it uses the
// listener file descriptor the supervisor inherited it instead of
// binding its own socket.
func runWorker(log *slog.Logger, cfg *config.Config, workerID string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log = log.With(slog.String("worker", workerID))

	p := buildPool(cfg, log)
	collector := metrics.New(p, 1024, log)
	prober := health.New(p, healthConfig(cfg), log, clockwork.NewRealClock())
	adapter := proxy.New(p, proxyConfig(cfg), log, collector.Observe)

	mux := http.NewServeMux()
	mux.Handle("/", adapter)
	if cfg.Metrics.Enabled {
		mux.HandleFunc(cfg.Metrics.Endpoint, collector.Handler())
	}

	ln, err := net.FileListener(os.NewFile(3, "edgelb-listener"))
	if err != nil {
		log.Error("failed to use inherited listener", slog.Any("err", err))
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	go collector.Run(collectorCtx)

	prober.Start()
	defer prober.Stop()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, cfg.ReloadSignal())

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
			err := httpSrv.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				log.Error("worker did not shut down within the drain window", slog.Any("err", err))
				os.Exit(1)
			}
			return
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				log.Error("worker server error", slog.Any("err", err))
				os.Exit(1)
			}
		case <-reloadCh:
			reload(log, p, prober)
		}
	}
}

// runSupervisor binds the listening socket itself and forks the
// configured number of worker processes, each inheriting that socket.
func runSupervisor(log *slog.Logger, cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Error("supervisor failed to bind listener", slog.Any("err", err))
		os.Exit(1)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		log.Error("supervisor listener is not TCP, cannot pass its file descriptor")
		os.Exit(1)
	}
	lnFile, err := tcpLn.File()
	if err != nil {
		log.Error("failed to obtain listener file descriptor", slog.Any("err", err))
		os.Exit(1)
	}

	binary, err := os.Executable()
	if err != nil {
		log.Error("failed to resolve executable path", slog.Any("err", err))
		os.Exit(1)
	}

	sup := worker.NewSupervisor(binary, os.Args[1:], cfg.NumWorkers, []*os.File{lnFile}, log)

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, cfg.ReloadSignal())
	go func() {
		for range reloadCh {
			log.Info("relaying reload signal to workers")
			sup.Broadcast(cfg.ReloadSignal())
		}
	}()

	log.Info("supervisor started", slog.Int("workers", cfg.NumWorkers), slog.Int("port", cfg.Port))
	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// reload re-reads configuration and applies the parts of it that can
// change without a restart: the backend list. The health prober is
// paused and resumed around the swap so no sweep reads a half-updated
// backend set.
func reload(log *slog.Logger, p *pool.Pool, prober *health.Prober) {
	log.Info("reloading configuration")

	cfg, err := config.Load()
	if err != nil {
		log.Error("reload failed, keeping previous configuration", slog.Any("err", err))
		return
	}

	prober.Stop()
	p.ReplaceServers(cfg.BackendSpecs())
	prober.Start()

	log.Info("configuration reloaded", slog.Int("servers", len(cfg.Servers)))
}

func buildPool(cfg *config.Config, log *slog.Logger) *pool.Pool {
	return pool.New(cfg.BackendSpecs(), cfg.Policy(), log)
}

func healthConfig(cfg *config.Config) health.Config {
	return health.Config{
		Enabled:             cfg.HealthCheck.Enabled,
		Interval:            cfg.HealthInterval(),
		Timeout:             cfg.HealthTimeout(),
		Path:                cfg.HealthCheck.Path,
		Method:              cfg.HealthCheck.Method,
		ExpectStatus:        cfg.HealthCheck.ExpectStatus,
		ExpectBodySubstring: cfg.HealthCheck.ExpectBodySubstring,
	}
}

func proxyConfig(cfg *config.Config) proxy.Config {
	return proxy.Config{
		ProxyTimeout:        cfg.ProxyTimeout(),
		ProxyConnectTimeout: cfg.ProxyConnectTimeout(),
		Sticky: proxy.StickyConfig{
			Enabled:    cfg.StickySession.Enabled,
			CookieName: cfg.StickySession.CookieName,
			Path:       cfg.StickySession.Path,
			MaxAge:     cfg.StickyMaxAge(),
			HTTPOnly:   cfg.StickySession.HTTPOnly,
			Secure:     cfg.StickySession.Secure,
		},
	}
}
