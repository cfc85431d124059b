// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package identity resolves and exposes the current actor's stable
// identifier and gates dependent operations until it is ready.
//
// Resolution is a one-shot observable: subscribers are notified exactly
// once when the id resolves, instead of polling. Once resolved, the
// gate never reverts to unresolved except through a full session reset.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrNotReady is the distinguished "identity not ready" condition.
// Writers treat it as non-retryable and never surface it as a network
// failure; readers simply stay disabled until resolution.
var ErrNotReady = errors.New("identity: not ready")

// Gate holds the session's actor identity.
type Gate struct {
	mu       sync.RWMutex
	actorID  string
	resolved bool
	done     chan struct{}
}

// NewGate creates an unresolved gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Resolve sets the actor id and wakes every waiter. Resolution is
// monotonic: the first call wins and later calls are ignored.
func (g *Gate) Resolve(actorID string) {
	if actorID == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return
	}
	g.actorID = actorID
	g.resolved = true
	close(g.done)
}

// ActorID returns the resolved actor id, or ErrNotReady.
func (g *Gate) ActorID() (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.resolved {
		return "", ErrNotReady
	}
	return g.actorID, nil
}

// Resolved reports whether the identity has been resolved.
func (g *Gate) Resolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolved
}

// Done returns a channel closed on resolution. Components that must not
// start before the identity is known select on it.
func (g *Gate) Done() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.done
}

// Wait blocks until the identity resolves or the context ends.
func (g *Gate) Wait(ctx context.Context) (string, error) {
	select {
	case <-g.Done():
		return g.ActorID()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Reset returns the gate to unresolved. Only a full session reset
// (logout) may call this.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actorID = ""
	g.resolved = false
	g.done = make(chan struct{})
}
