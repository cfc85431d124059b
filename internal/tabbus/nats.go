// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package tabbus

import (
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/vicinity-app/chatsync/internal/logging"
)

// NATSConfig holds the bus transport settings.
type NATSConfig struct {
	// URL is the NATS server address. Empty means the embedded server.
	URL string `koanf:"url"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// DefaultNATSConfig returns production defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           natsgo.DefaultURL,
		MaxReconnects: -1, // retry forever; the bus is useless disconnected
		ReconnectWait: 2 * time.Second,
		CloseTimeout:  10 * time.Second,
	}
}

func natsOptions(cfg NATSConfig) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("bus transport disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("bus transport reconnected")
		}),
	}
}

// NewNATSTransport builds the Watermill publisher and subscriber over
// core NATS. JetStream is deliberately off: sibling fan-out is
// ephemeral, an instance that was down has its own resync path and must
// not replay stale mutations. No queue group, every sibling gets every
// message.
func NewNATSTransport(cfg NATSConfig) (message.Publisher, message.Subscriber, error) {
	logger := newWatermillLogger()

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create bus publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:          cfg.URL,
		NatsOptions:  natsOptions(cfg),
		Unmarshaler:  &wmNats.NATSMarshaler{},
		CloseTimeout: cfg.CloseTimeout,
		JetStream:    wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("create bus subscriber: %w", err)
	}

	return pub, sub, nil
}
