// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package tabbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/identity"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
	"github.com/vicinity-app/chatsync/internal/mux"
)

// Applier receives events originating from sibling instances. The
// multiplexer's dispatcher satisfies it, which keeps the bus on the
// same event-to-operation table as the streams.
type Applier interface {
	Dispatch(ctx context.Context, ev *chat.Event)
}

// Bus broadcasts local cache mutations to sibling instances and applies
// theirs. The topic is scoped to the session's actor so machines shared
// by several accounts never cross streams.
type Bus struct {
	pub        message.Publisher
	sub        message.Subscriber
	gate       *identity.Gate
	applier    Applier
	serializer *chat.Serializer
	instance   string
}

var _ Applier = (*mux.Dispatcher)(nil)

// New builds a bus over any Watermill transport.
func New(pub message.Publisher, sub message.Subscriber, gate *identity.Gate, applier Applier, instance string) *Bus {
	return &Bus{
		pub:        pub,
		sub:        sub,
		gate:       gate,
		applier:    applier,
		serializer: chat.NewSerializer(),
		instance:   instance,
	}
}

func topic(actorID string) string {
	return "chatsync.session." + actorID
}

// Broadcast publishes one event to the session topic, stamping this
// instance as origin so siblings' echo suppression and our own agree
// on who caused it.
func (b *Bus) Broadcast(ctx context.Context, ev *chat.Event) error {
	actor, err := b.gate.ActorID()
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	if ev.Origin == "" {
		ev.Origin = b.instance
	}
	payload, err := b.serializer.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pub.Publish(topic(actor), msg); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	metrics.BusPublished.Inc()
	return nil
}

// Run subscribes to the session topic once identity resolves and
// applies sibling events until the context ends. Suture-supervised.
func (b *Bus) Run(ctx context.Context) error {
	actor, err := b.gate.Wait(ctx)
	if err != nil {
		return err
	}

	messages, err := b.sub.Subscribe(ctx, topic(actor))
	if err != nil {
		return fmt.Errorf("subscribe session topic: %w", err)
	}
	logging.Info().Str("topic", topic(actor)).Msg("tab bus subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.apply(ctx, msg)
		}
	}
}

func (b *Bus) apply(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	ev, err := b.serializer.Unmarshal(msg.Payload)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		logging.Debug().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable bus message")
		return
	}

	if ev.Origin == b.instance {
		// Our own broadcast coming back around.
		return
	}

	metrics.BusApplied.Inc()
	b.applier.Dispatch(ctx, ev)
}

// Close shuts both transport ends down.
func (b *Bus) Close() error {
	perr := b.pub.Close()
	serr := b.sub.Close()
	if perr != nil {
		return perr
	}
	return serr
}
