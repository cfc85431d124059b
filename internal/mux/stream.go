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

	"github.com/gorilla/websocket"

	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
)

const (
	handshakeTimeout  = 10 * time.Second
	readDeadline      = 60 * time.Second
	pingInterval      = 30 * time.Second
	initialReconnect  = 1 * time.Second
	maxReconnectDelay = 32 * time.Second
)

// stream maintains one websocket connection for a single scope and
// keeps it alive across transport drops. Received frames are handed to
// onFrame raw; onOnline fires after each successful (re)connect with
// the length of the preceding offline gap, zero on first connect.
type stream struct {
	scope  string // metrics/log label: "user" or "conversation"
	wsURL  string
	header http.Header

	conn   *websocket.Conn
	connMu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	onFrame  func([]byte)
	onOnline func(offline time.Duration)

	offlineSince time.Time
}

func newStream(scope, wsURL string, header http.Header, onFrame func([]byte), onOnline func(time.Duration)) *stream {
	return &stream{
		scope:    scope,
		wsURL:    wsURL,
		header:   header,
		stopChan: make(chan struct{}),
		onFrame:  onFrame,
		onOnline: onOnline,
	}
}

// start connects and launches the listen and ping goroutines. The
// initial dial is synchronous so callers learn immediately whether the
// endpoint is reachable; later drops reconnect in the background.
func (s *stream) start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	s.wg.Add(2)
	go s.listen(ctx)
	go s.pingLoop(ctx)
	return nil
}

func (s *stream) connect(ctx context.Context) error {
	s.connMu.RLock()
	connected := s.conn != nil
	s.connMu.RUnlock()
	if connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, s.wsURL, s.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.connMu.Lock()
	s.conn = conn
	var offline time.Duration
	if !s.offlineSince.IsZero() {
		offline = time.Since(s.offlineSince)
		s.offlineSince = time.Time{}
	}
	s.connMu.Unlock()

	logging.Debug().Str("scope", s.scope).Str("url", s.wsURL).Msg("stream connected")

	// The online hook may run a full resync over the network; holding
	// connMu across it would stall the ping loop and stop.
	if s.onOnline != nil {
		s.onOnline(offline)
	}
	return nil
}

// listen reads frames until stopped, reconnecting with exponential
// backoff on transport failure.
func (s *stream) listen(ctx context.Context) {
	defer s.wg.Done()

	delay := initialReconnect

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		default:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				logging.Info().Str("scope", s.scope).Dur("delay", delay).Msg("stream offline, reconnecting")
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				case <-s.stopChan:
					return
				}
				delay *= 2
				if delay > maxReconnectDelay {
					delay = maxReconnectDelay
				}

				metrics.StreamReconnects.WithLabelValues(s.scope).Inc()
				if err := s.connect(ctx); err != nil {
					logging.Warn().Err(err).Str("scope", s.scope).Msg("stream reconnect failed")
					continue
				}
				delay = initialReconnect
				continue
			}

			if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
				logging.Warn().Err(err).Str("scope", s.scope).Msg("failed to set read deadline")
			}

			_, frame, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logging.Debug().Str("scope", s.scope).Msg("stream closed normally")
				} else if ctx.Err() != nil {
					return
				} else {
					logging.Warn().Err(err).Str("scope", s.scope).Msg("stream read error")
				}
				s.dropConnection()
				continue
			}

			delay = initialReconnect
			s.onFrame(frame)
		}
	}
}

func (s *stream) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			s.connMu.Unlock()

			if err != nil {
				logging.Warn().Err(err).Str("scope", s.scope).Msg("stream ping failed")
				s.dropConnection()
			}
		}
	}
}

// dropConnection closes the socket and marks the start of the offline
// gap so the next successful connect can report its length.
func (s *stream) dropConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(1*time.Second),
	)
	_ = s.conn.Close()
	s.conn = nil
	if s.offlineSince.IsZero() {
		s.offlineSince = time.Now()
	}
}

// listenAfterFailedDial launches the background loops without a live
// connection; the listen loop takes over dialing with backoff.
func (s *stream) listenAfterFailedDial(ctx context.Context) {
	s.connMu.Lock()
	if s.offlineSince.IsZero() {
		s.offlineSince = time.Now()
	}
	s.connMu.Unlock()

	s.wg.Add(2)
	go s.listen(ctx)
	go s.pingLoop(ctx)
}

// stop tears the stream down and waits for its goroutines.
func (s *stream) stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.dropConnection()
	s.wg.Wait()
}
