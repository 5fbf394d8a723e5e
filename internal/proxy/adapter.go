package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rileyhorn/edgelb/internal/pool"
)

// Observer is notified after every request that was forwarded to a
// backend completes, however it completed; a request answered 503
// because no backend was healthy is not reported. It is the hook the
// metrics collector subscribes through; nil is a valid, no-op value.
type Observer func(backendID string, statusCode int, duration time.Duration)

// Config carries the adapter's timeout knobs.
type Config struct {
	ProxyTimeout        time.Duration
	ProxyConnectTimeout time.Duration
	Sticky              StickyConfig
}

func (c Config) withDefaults() Config {
	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = 30 * time.Second
	}
	if c.ProxyConnectTimeout <= 0 {
		c.ProxyConnectTimeout = 5 * time.Second
	}
	c.Sticky = c.Sticky.withDefaults()
	return c
}

// Adapter is the request-lifecycle glue: pick a backend, forward the
// request, and release the backend's in-flight counter exactly once no
// matter how the request ends.
type Adapter struct {
	logger   *slog.Logger
	pool     *pool.Pool
	cfg      Config
	observe  Observer
	transport *http.Transport
}

// New builds an Adapter over the given pool.
func New(p *pool.Pool, cfg Config, logger *slog.Logger, observe Observer) *Adapter {
	cfg = cfg.withDefaults()

	dialer := &net.Dialer{Timeout: cfg.ProxyConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &Adapter{
		logger:    logger,
		pool:      p,
		cfg:       cfg,
		observe:   observe,
		transport: transport,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.headerWritten {
		return
	}
	r.headerWritten = true
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// ServeHTTP runs the request lifecycle in order: sticky extraction,
// pick, cookie emission, forwarding, and an exactly-once release.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stickyID := a.cfg.Sticky.extractStickyID(r)

	target, err := a.pool.Pick(stickyID)
	if err != nil {
		a.logger.Warn("no healthy backend available", slog.String("path", r.URL.Path))
		http.Error(w, "no healthy server available", http.StatusServiceUnavailable)
		return
	}

	if a.cfg.Sticky.Enabled && (stickyID == "" || stickyID != target.ID) {
		a.cfg.Sticky.setStickyCookie(w, target.ID)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		a.pool.Release(target.ID)
	}
	defer release()

	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	rp := &httputil.ReverseProxy{
		Transport: a.transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = fmt.Sprintf("%s:%d", target.Host, target.Port)
			req.Host = req.URL.Host
			addForwardedHeaders(req, r)
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			markUnhealthy, abort, reason := classifyUpstreamError(req, err)
			release()

			if abort {
				a.logger.Info("client aborted request",
					slog.String("backend", target.ID), slog.String("reason", reason))
				return
			}

			a.logger.Warn("upstream request failed",
				slog.String("backend", target.ID), slog.String("reason", reason))

			if markUnhealthy {
				a.pool.MarkUnhealthy(target.ID, reason)
			}

			if !rec.headerWritten {
				http.Error(rw, "bad gateway", http.StatusBadGateway)
			}
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.ProxyTimeout)
	defer cancel()

	rp.ServeHTTP(rec, r.WithContext(ctx))

	if a.observe != nil {
		a.observe(target.ID, rec.statusCode, time.Since(start))
	}
}

// classifyUpstreamError maps a ReverseProxy error to an upstream error
// category. A context.Canceled error on the request's own (proxy-owned)
// context means the parent — the original client request — was
// canceled, i.e. the client aborted; context.DeadlineExceeded means our
// own proxyTimeoutMs elapsed; anything else is a connect-level failure
// (refused, DNS, etc).
func classifyUpstreamError(req *http.Request, err error) (markUnhealthy, abort bool, reason string) {
	switch {
	case errors.Is(err, context.Canceled):
		return false, true, "client aborted before completion"
	case errors.Is(err, context.DeadlineExceeded):
		return true, false, "proxy timeout exceeded"
	default:
		return true, false, fmt.Sprintf("upstream connect error: %v", err)
	}
}

func addForwardedHeaders(outgoing, original *http.Request) {
	// httputil.ReverseProxy itself appends the client address to
	// X-Forwarded-For after the Director runs whenever RemoteAddr is in
	// host:port form, so the header is only extended here when it is not.
	if _, _, err := net.SplitHostPort(original.RemoteAddr); err != nil {
		clientIP := extractClientIP(original)
		if prior := outgoing.Header.Get("X-Forwarded-For"); prior != "" {
			outgoing.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else if clientIP != "" {
			outgoing.Header.Set("X-Forwarded-For", clientIP)
		}
	}

	proto := "http"
	if original.TLS != nil {
		proto = "https"
	}
	outgoing.Header.Set("X-Forwarded-Proto", proto)
	outgoing.Header.Set("X-Forwarded-Host", original.Host)
}

func extractClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
