// Package server runs the HTTP listener the lead router's API hangs off.
package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// Server wraps http.Server with the timeouts the API runs under. Route
// attempts are bounded well below the write timeout, so a slow CRM never
// holds a connection open indefinitely.
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
}

// New builds a server for the given handler. TLS is enabled when both a
// certificate and key path are configured.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
	}
}

// Start begins serving in the background. A listener failure is fatal; a
// router that cannot accept contacts has nothing else to do.
func (s *Server) Start() error {
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		go func() {
			if err := s.srv.ListenAndServeTLS(s.tlsCert, s.tlsKey); err != nil && err != http.ErrServerClosed {
				panic(err)
			}
		}()
		return nil
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
