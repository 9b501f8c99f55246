// Package web provides the HTTP boundary of the device: a server and a
// dispatcher that hands requests to the loop goroutine.
package web

import (
	"context"
	"net"
	"net/http"
)

// Server serves a handler over HTTP.
type Server struct {
	httpServer *http.Server
}

// New creates a Server for the given handler, normally a Dispatcher.
func New(addr string, h http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: h,
		},
	}
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
