// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Runner is anything whose whole lifecycle is a blocking Serve-style
// call. The multiplexer and the tab bus both satisfy it via method
// values (mux.Serve, bus.Run).
type Runner func(ctx context.Context) error

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	name string
	run  Runner
}

// NewRunnerService wraps run as a named supervised service.
func NewRunnerService(name string, run Runner) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// Serve implements suture.Service. Returning ctx.Err() after the serve
// context is canceled tells suture the stop was orderly.
func (s *RunnerService) Serve(ctx context.Context) error {
	if err := s.run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *RunnerService) String() string { return s.name }

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under supervision, translating the
// blocking ListenAndServe pattern into context-aware serve-and-drain.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPService wraps server with a graceful-shutdown timeout.
func NewHTTPService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout, name: name}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		// The serve context is already canceled, so shutdown gets its
		// own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", s.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return s.name }

// Closer matches components that only need closing when the process
// stops, like the outbox store or an embedded broker.
type Closer interface {
	Close() error
}

// CloserService holds a long-lived component open for the life of the
// tree and closes it on shutdown. It does no work of its own; putting
// it in the storage layer ties the component's lifetime to the tree.
type CloserService struct {
	name   string
	closer Closer
}

// NewCloserService wraps closer as a supervised lifetime holder.
func NewCloserService(name string, closer Closer) *CloserService {
	return &CloserService{name: name, closer: closer}
}

// Serve implements suture.Service.
func (s *CloserService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("%s close: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *CloserService) String() string { return s.name }
