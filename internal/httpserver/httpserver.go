// Package httpserver adapts the standard net/http.Server with the
// ShutdownHelper-based graceful teardown used throughout this system: the
// listener is released on every exit path, whether triggered by context
// cancellation or an explicit Close.
package httpserver

import (
	"context"
	"net"
	"net/http"

	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

// Server extends http.Server with a ShutdownHelper-driven graceful close.
type Server struct {
	rlog.ShutdownHelper
	*http.Server
	listener net.Listener
}

// New creates a Server ready for ListenAndServe.
func New(logger *rlog.Logger) *Server {
	s := &Server{Server: &http.Server{}}
	s.ShutdownHelper.Init(logger, s)
	return s
}

// HandleOnceShutdown closes the listener; net/http.Server.Serve then returns.
func (s *Server) HandleOnceShutdown(completionErr error) error {
	s.DLogf("shutting down listener")
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.DLogf("close of listener failed, ignoring: %s", err)
			if completionErr == nil {
				completionErr = err
			}
		}
	}
	return completionErr
}

// ListenAndServe binds addr, serves handler, and shuts down cleanly when ctx
// is cancelled or Close/Shutdown is called. It returns once fully stopped.
func (s *Server) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return s.ELogErrorf("listen on %s failed: %s", addr, err)
	}
	s.listener = l
	s.Handler = handler

	go func() {
		<-ctx.Done()
		s.StartShutdown(ctx.Err())
	}()

	go func() {
		err := s.Serve(l)
		if err == http.ErrServerClosed {
			err = nil
		}
		s.StartShutdown(err)
	}()

	return s.WaitShutdown()
}
