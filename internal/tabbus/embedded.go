// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package tabbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/vicinity-app/chatsync/internal/logging"
)

// EmbeddedServerConfig configures the in-process NATS server used when
// no external broker is available.
type EmbeddedServerConfig struct {
	Host string `koanf:"host"`
	// Port 0 picks a free port; ClientURL reports the real address.
	Port int `koanf:"port"`
}

// DefaultEmbeddedServerConfig binds the embedded broker to loopback:
// only sibling instances on the same machine should ever reach it.
func DefaultEmbeddedServerConfig() EmbeddedServerConfig {
	return EmbeddedServerConfig{Host: "127.0.0.1", Port: 4222}
}

// EmbeddedServer runs a loopback NATS server inside the first chatsync
// instance; siblings connect to it as plain clients.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// StartEmbeddedServer boots the server and waits until it accepts
// connections.
func StartEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "chatsync-tabbus",
		Host:       cfg.Host,
		Port:       cfg.Port,
		// Fan-out only; durable replay is the resync path's job.
		JetStream:  false,
		NoLog:      true,
		MaxPayload: 1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded bus server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus server not ready within timeout")
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("embedded bus server started")
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the address siblings connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the server, waiting for in-flight delivery unless the
// context gives up first.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
