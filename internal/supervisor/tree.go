// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package supervisor builds the suture tree that keeps the chatsync
// runtime alive: crashed stream multiplexers, tab buses, and ops servers
// restart with backoff instead of taking the agent down.
//
// The tree has three layers for failure isolation:
//   - storage: the outbox store and anything else holding local state
//   - session: the event multiplexer and the cross-instance tab bus
//   - ops: the local HTTP surface (health, metrics)
//
// A reconnect storm in the session layer never restarts the outbox; the
// ops endpoints keep answering while streams churn.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig tunes restart behavior for every supervisor in the tree.
type TreeConfig struct {
	// FailureThreshold is the failure count that triggers backoff.
	FailureThreshold float64

	// FailureDecay is the half-life, in seconds, of accumulated failures.
	FailureDecay float64

	// FailureBackoff is how long a tripped supervisor pauses restarts.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown of each service.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig mirrors suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the chatsync supervisor hierarchy.
type Tree struct {
	root    *suture.Supervisor
	storage *suture.Supervisor
	session *suture.Supervisor
	ops     *suture.Supervisor
	config  TreeConfig
}

// NewTree builds the three-layer tree. Suture events are logged through
// the given slog logger; pass logging.NewSlogLogger() to route them into
// the process zerolog output.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// sutureslog's hook has a pointer receiver; MustHook panics only on
	// a nil logger.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	rootSpec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("chatsync", rootSpec)
	storage := suture.New("storage-layer", childSpec)
	session := suture.New("session-layer", childSpec)
	ops := suture.New("ops-layer", childSpec)

	root.Add(storage)
	root.Add(session)
	root.Add(ops)

	return &Tree{
		root:    root,
		storage: storage,
		session: session,
		ops:     ops,
		config:  config,
	}
}

// AddStorageService adds a service to the storage layer.
func (t *Tree) AddStorageService(svc suture.Service) suture.ServiceToken {
	return t.storage.Add(svc)
}

// AddSessionService adds a service to the session layer. The
// multiplexer and tab bus live here.
func (t *Tree) AddSessionService(svc suture.Service) suture.ServiceToken {
	return t.session.Add(svc)
}

// AddOpsService adds a service to the ops layer.
func (t *Tree) AddOpsService(svc suture.Service) suture.ServiceToken {
	return t.ops.Add(svc)
}

// Remove stops and removes a service by token.
func (t *Tree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// RemoveAndWait removes a service and waits for it to stop.
func (t *Tree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.root.RemoveAndWait(token, timeout)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine and returns the channel
// that receives its terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown
// timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
