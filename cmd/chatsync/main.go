// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package main is the entry point for the chatsync agent.
//
// chatsync keeps a device's local view of Vicinity conversations
// consistent with the server authority. One process runs per
// device/tab-group ("instance"); sibling instances of the same user on
// the same host share a local NATS bus so a message sent in one tab
// appears in the others without a server round trip.
//
// # Startup order
//
//  1. Configuration: koanf layered load (defaults → YAML → env)
//  2. Logging: zerolog, JSON or console per config
//  3. Identity: resolve the actor id from the session token
//  4. Outbox: open the BadgerDB pending store and rehydrate it
//  5. Caches: message/inbox store, presence tracker, dispatcher
//  6. Transport: send API client, event multiplexer, tab bus
//  7. Supervisor: suture tree (storage / session / ops layers)
//  8. Ops server: /healthz, /readyz, /metrics on localhost
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the supervisor tree; in-flight sends are
// drained before exit so the outbox reflects their true terminal state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vicinity-app/chatsync/internal/config"
	"github.com/vicinity-app/chatsync/internal/identity"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
	"github.com/vicinity-app/chatsync/internal/mux"
	"github.com/vicinity-app/chatsync/internal/ops"
	"github.com/vicinity-app/chatsync/internal/outbox"
	"github.com/vicinity-app/chatsync/internal/presence"
	"github.com/vicinity-app/chatsync/internal/send"
	"github.com/vicinity-app/chatsync/internal/store"
	"github.com/vicinity-app/chatsync/internal/supervisor"
	"github.com/vicinity-app/chatsync/internal/tabbus"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("chatsync exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	instance := uuid.NewString()
	logging.Info().
		Str("instance", instance).
		Str("api_url", cfg.API.BaseURL).
		Str("stream_url", cfg.Stream.BaseURL).
		Bool("bus_enabled", cfg.Bus.Enabled).
		Msg("Starting chatsync agent")

	// Identity first: everything downstream blocks on the gate.
	gate := identity.NewGate()
	if cfg.Identity.SessionToken != "" {
		if err := gate.ResolveFromToken(cfg.Identity.SessionToken, []byte(cfg.Identity.TokenSecret)); err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
		actor, _ := gate.ActorID()
		logging.Info().Str("actor_id", actor).Msg("Identity resolved from session token")
	} else {
		logging.Warn().Msg("No session token configured; sends and streams wait for identity")
	}

	ob, err := outbox.Open(outbox.Config{
		Path:       cfg.Outbox.Path,
		SyncWrites: cfg.Outbox.SyncWrites,
	})
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	st := store.New()
	tracker := presence.NewTracker(cfg.Presence.TypingTTL)
	viewer := func() string {
		id, _ := gate.ActorID()
		return id
	}
	dispatcher := mux.NewDispatcher(st, tracker, ob, viewer, instance)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tab bus: embedded loopback broker unless an external URL is set.
	var (
		bus      *tabbus.Bus
		embedded *tabbus.EmbeddedServer
	)
	if cfg.Bus.Enabled {
		busURL := cfg.Bus.URL
		if cfg.Bus.Embedded && busURL == "" {
			embedded, err = tabbus.StartEmbeddedServer(tabbus.EmbeddedServerConfig{
				Host: cfg.Bus.Host,
				Port: cfg.Bus.Port,
			})
			if err != nil {
				// Another sibling already owns the port; connect to it.
				logging.Info().Err(err).Msg("Embedded bus server unavailable, connecting as client")
				busURL = fmt.Sprintf("nats://%s:%d", cfg.Bus.Host, cfg.Bus.Port)
			} else {
				busURL = embedded.ClientURL()
			}
		}
		pub, sub, err := tabbus.NewNATSTransport(tabbus.NATSConfig{
			URL:           busURL,
			MaxReconnects: cfg.Bus.MaxReconnects,
			ReconnectWait: cfg.Bus.ReconnectWait,
		})
		if err != nil {
			return fmt.Errorf("connect tab bus: %w", err)
		}
		bus = tabbus.New(pub, sub, gate, dispatcher, instance)
	}

	client := send.NewClient(send.ClientConfig{
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.Identity.SessionToken,
		RequestTimeout: cfg.API.RequestTimeout,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
	})

	var broadcaster send.Broadcaster
	if bus != nil {
		broadcaster = bus
	}
	pipeline := send.NewPipeline(gate, st, ob, client, broadcaster, instance)

	m := mux.New(mux.Config{
		BaseURL:         cfg.Stream.BaseURL,
		Token:           cfg.Identity.SessionToken,
		ResyncThreshold: cfg.Stream.ResyncThreshold,
	}, dispatcher, gate)
	m.OnResync(pipeline.Resync)

	// Restore pending sends from the previous run before streams open.
	if gate.Resolved() {
		if err := pipeline.Rehydrate(ctx); err != nil {
			logging.Warn().Err(err).Msg("Outbox rehydration failed")
		}
	}

	opsServer := ops.New(cfg.Server)
	opsServer.RegisterProbe("identity", func() error {
		if !gate.Resolved() {
			return identity.ErrNotReady
		}
		return nil
	})
	opsServer.RegisterProbe("outbox", func() error {
		depth, err := ob.Depth(context.Background())
		if err != nil {
			return err
		}
		metrics.OutboxDepth.Set(float64(depth))
		return nil
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStorageService(supervisor.NewCloserService("outbox-store", ob))
	tree.AddSessionService(supervisor.NewRunnerService("event-mux", m.Serve))
	if bus != nil {
		tree.AddSessionService(supervisor.NewRunnerService("tab-bus", bus.Run))
	}
	tree.AddOpsService(supervisor.NewHTTPService("ops-server", opsServer.HTTPServer(), 10*time.Second))

	logging.Info().Msg("Supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped")
	}

	// Drain in-flight sends so outbox entries reflect terminal states.
	logging.Info().Msg("Shutting down, draining in-flight sends")
	pipeline.Drain()
	if bus != nil {
		if err := bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("Bus close failed")
		}
	}
	if embedded != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Embedded bus shutdown failed")
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
