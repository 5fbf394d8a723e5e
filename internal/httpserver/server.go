// Package httpserver wraps http.Server with address validation, optional
// TLS termination, and graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// TLSConfig names the PEM key/cert pair used to terminate TLS on an
// HTTPS listener.
type TLSConfig struct {
	CertPath string
	KeyPath  string
}

// Server wraps http.Server with address validation and graceful
// shutdown.
type Server struct {
	server *http.Server
	tls    *TLSConfig
}

// New creates an HTTP server with the given address and handler. If tls
// is non-nil, Start terminates TLS using the given cert/key instead of
// serving plaintext.
func New(addr string, handler http.Handler, tls *TLSConfig) (*Server, error) {
	if err := validateHostPort(addr); err != nil {
		return nil, err
	}

	return &Server{
		tls: tls,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Start begins listening for requests. It returns nil on a clean
// shutdown and a non-nil error for anything else, including a missing
// or unreadable TLS certificate/key file.
func (s *Server) Start() error {
	var err error
	if s.tls != nil {
		err = s.server.ListenAndServeTLS(s.tls.CertPath, s.tls.KeyPath)
	} else {
		err = s.server.ListenAndServe()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, bounding the wait for
// in-flight connections to a fixed sub-timeout independent of whatever
// deadline the caller's ctx already carries.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}
	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}
	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}
	return nil
}
