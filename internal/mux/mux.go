// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package mux

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/identity"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
)

// DefaultResyncThreshold is the offline gap beyond which missed events
// are assumed unrecoverable from the stream alone and a full resync is
// triggered instead.
const DefaultResyncThreshold = 2 * time.Minute

// Config carries the multiplexer's connection settings.
type Config struct {
	// BaseURL is the websocket origin, e.g. "wss://api.vicinity.app".
	BaseURL string
	// Token authenticates the streams; sent as a bearer header.
	Token string
	// ResyncThreshold bounds the tolerated offline gap. Zero means
	// DefaultResyncThreshold.
	ResyncThreshold time.Duration
}

// Multiplexer owns the streaming connections: exactly one for the
// viewer's personal feed, plus one per watched conversation. Watches
// are reference counted so several views of the same conversation
// share a single stream.
type Multiplexer struct {
	cfg        Config
	dispatcher *Dispatcher
	gate       *identity.Gate

	mu      sync.Mutex
	runCtx  context.Context
	running bool
	refs    map[string]int
	streams map[string]*stream
	user    *stream

	resyncMu sync.Mutex
	resync   func(context.Context) error
}

// New builds a multiplexer. Streams are not opened until Serve runs
// and the identity gate resolves.
func New(cfg Config, d *Dispatcher, gate *identity.Gate) *Multiplexer {
	if cfg.ResyncThreshold <= 0 {
		cfg.ResyncThreshold = DefaultResyncThreshold
	}
	return &Multiplexer{
		cfg:        cfg,
		dispatcher: d,
		gate:       gate,
		refs:       make(map[string]int),
		streams:    make(map[string]*stream),
	}
}

// OnResync registers the hook invoked after an offline gap exceeds the
// threshold. The hook is expected to reset and refetch cached state.
func (m *Multiplexer) OnResync(fn func(context.Context) error) {
	m.resyncMu.Lock()
	m.resync = fn
	m.resyncMu.Unlock()
}

// SetActive forwards the viewer's focus to the dispatcher.
func (m *Multiplexer) SetActive(conversationID string, visible bool) {
	m.dispatcher.SetActive(conversationID, visible)
}

// Dispatcher exposes the event dispatcher, used by the sibling bus to
// apply remote operations through the same routing table.
func (m *Multiplexer) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Serve is the supervised run loop: it waits for the identity gate,
// opens the personal feed stream and any conversations watched before
// startup, then blocks until the context ends.
func (m *Multiplexer) Serve(ctx context.Context) error {
	actor, err := m.gate.Wait(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.runCtx = ctx
	m.running = true

	m.user = newStream("user", m.feedURL(actor), m.header(), m.frameHandler("user"), m.onlineHandler)
	if err := m.user.start(ctx); err != nil {
		// The listen loop is not running yet, so retry from scratch
		// rather than reporting a permanently broken feed.
		m.running = false
		m.user = nil
		m.mu.Unlock()
		return fmt.Errorf("open personal feed: %w", err)
	}

	for roomID := range m.refs {
		m.startStreamLocked(ctx, roomID)
	}
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	m.running = false
	user := m.user
	m.user = nil
	open := make([]*stream, 0, len(m.streams))
	for _, st := range m.streams {
		open = append(open, st)
	}
	m.streams = make(map[string]*stream)
	m.mu.Unlock()

	if user != nil {
		user.stop()
	}
	for _, st := range open {
		st.stop()
	}
	return ctx.Err()
}

// WatchConversation subscribes to a conversation's stream. Repeated
// watches share one connection; each must be paired with an Unwatch.
func (m *Multiplexer) WatchConversation(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs[roomID]++
	if m.refs[roomID] == 1 && m.running {
		m.startStreamLocked(m.runCtx, roomID)
	}
	metrics.WatchedConversations.Set(float64(len(m.refs)))
}

// UnwatchConversation releases one watch; the stream closes when the
// last watcher is gone. Unbalanced calls are ignored.
func (m *Multiplexer) UnwatchConversation(roomID string) {
	m.mu.Lock()
	n, ok := m.refs[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if n > 1 {
		m.refs[roomID] = n - 1
		m.mu.Unlock()
		return
	}
	delete(m.refs, roomID)
	st := m.streams[roomID]
	delete(m.streams, roomID)
	metrics.WatchedConversations.Set(float64(len(m.refs)))
	m.mu.Unlock()

	if st != nil {
		st.stop()
	}
}

func (m *Multiplexer) startStreamLocked(ctx context.Context, roomID string) {
	st := newStream("conversation", m.roomURL(roomID), m.header(), m.frameHandler(roomID), m.onlineHandler)
	m.streams[roomID] = st
	if err := st.start(ctx); err != nil {
		// Keep the stream registered; its listen loop will keep
		// retrying with backoff.
		logging.Warn().Err(err).Str("conversation_id", roomID).Msg("conversation stream dial failed")
		st.listenAfterFailedDial(ctx)
	}
}

func (m *Multiplexer) feedURL(actorID string) string {
	return fmt.Sprintf("%s/ws/users/%s", m.cfg.BaseURL, actorID)
}

func (m *Multiplexer) roomURL(roomID string) string {
	return fmt.Sprintf("%s/ws/conversations/%s", m.cfg.BaseURL, roomID)
}

func (m *Multiplexer) header() http.Header {
	h := http.Header{}
	if m.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	return h
}

// frameHandler returns the per-stream frame callback: normalize, then
// dispatch. Malformed frames are counted and dropped, never fatal.
func (m *Multiplexer) frameHandler(scope string) func([]byte) {
	return func(raw []byte) {
		ev, err := chat.Normalize(raw)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
			logging.Debug().Err(err).Str("scope", scope).Msg("dropping unresolvable frame")
			return
		}
		m.dispatcher.Dispatch(m.currentCtx(), ev)
	}
}

// onlineHandler fires on every successful (re)connect. A gap longer
// than the threshold means missed events cannot be assumed replayed,
// so cached state is rebuilt through the resync hook.
func (m *Multiplexer) onlineHandler(offline time.Duration) {
	if offline < m.cfg.ResyncThreshold {
		return
	}

	metrics.Resyncs.Inc()
	logging.Info().Dur("offline", offline).Msg("offline gap exceeded threshold, resyncing")

	m.resyncMu.Lock()
	fn := m.resync
	m.resyncMu.Unlock()
	if fn == nil {
		return
	}
	if err := fn(m.currentCtx()); err != nil {
		logging.Error().Err(err).Msg("resync failed")
	}
}

func (m *Multiplexer) currentCtx() context.Context {
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
