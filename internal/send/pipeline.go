// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package send

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/identity"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
	"github.com/vicinity-app/chatsync/internal/outbox"
	"github.com/vicinity-app/chatsync/internal/store"
)

// API is the slice of the chat backend the pipeline needs. *Client
// implements it; tests substitute a fake.
type API interface {
	SendMessage(ctx context.Context, msg *chat.Message) error
	MarkRead(ctx context.Context, conversationID string) error
	ReconcileReceipts(ctx context.Context, messageIDs []string) (map[string]chat.DeliveryState, error)
	Conversations(ctx context.Context) ([]*chat.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]*chat.Message, error)
}

// Broadcaster fans a local mutation out to sibling instances. Nil is
// allowed when the process runs without a bus.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev *chat.Event) error
}

// SendOptions carries the optional message fields.
type SendOptions struct {
	Caption string
	ReplyTo *chat.ReplyRef
}

// Pipeline drives an outgoing message through its delivery states:
// optimistic pending insert, durable outbox entry, network call, then
// sent on success or failed with retry/discard on error. Network calls
// run on background goroutines; Drain waits them out on shutdown.
type Pipeline struct {
	gate     *identity.Gate
	store    *store.Store
	outbox   *outbox.Outbox
	api      API
	bus      Broadcaster
	instance string

	sendTimeout time.Duration
	wg          sync.WaitGroup
}

// NewPipeline wires the pipeline. instance is this process's id, used
// as the origin tag on broadcasts; bus may be nil.
func NewPipeline(gate *identity.Gate, st *store.Store, ob *outbox.Outbox, api API, bus Broadcaster, instance string) *Pipeline {
	return &Pipeline{
		gate:        gate,
		store:       st,
		outbox:      ob,
		api:         api,
		bus:         bus,
		instance:    instance,
		sendTimeout: 30 * time.Second,
	}
}

// Send inserts an optimistic pending message, persists it, and fires
// the network call in the background. The returned message carries the
// client-minted id the transcript (and any retry) will keep using.
//
// Identity is checked first: with no resolved actor nothing is written
// anywhere and the caller gets an identity-kind error.
func (p *Pipeline) Send(ctx context.Context, conversationID, content string, typ chat.MessageType, opts *SendOptions) (*chat.Message, error) {
	actor, err := p.gate.ActorID()
	if err != nil {
		metrics.SendsTotal.WithLabelValues(string(KindIdentity)).Inc()
		return nil, &SendError{Kind: KindIdentity, Err: err}
	}

	msg := chat.NewMessage(conversationID, actor, content, typ)
	if opts != nil {
		msg.Caption = opts.Caption
		msg.ReplyTo = opts.ReplyTo
	}

	p.store.UpsertMessage(msg, actor)
	p.store.ApplyInboxUpdate(msg, actor, true)

	if err := p.outbox.Persist(ctx, msg); err != nil {
		// A dead disk should degrade durability, not block sending.
		logging.Warn().Err(err).Str("message_id", msg.ID).Msg("outbox persist failed")
	}

	p.broadcast(ctx, &chat.Event{
		Type:    chat.EventNewMessage,
		Origin:  p.instance,
		Message: msg.Clone(),
	})

	p.wg.Add(1)
	go p.deliver(msg.Clone())

	return msg.Clone(), nil
}

// deliver runs the network call on its own context so an abandoned
// view doesn't cancel an in-flight send.
func (p *Pipeline) deliver(msg *chat.Message) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()

	start := time.Now()
	err := p.api.SendMessage(ctx, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := Kind(err)
		metrics.SendsTotal.WithLabelValues(string(kind)).Inc()
		logging.Warn().Err(err).
			Str("message_id", msg.ID).
			Str("conversation_id", msg.ConversationID).
			Str("kind", string(kind)).
			Msg("send failed")

		p.store.SetMessageState(msg.ConversationID, msg.ID, chat.StateFailed)
		// The send context may itself be what expired; the durable
		// failure record still has to land, so it gets its own deadline.
		obCtx, obCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer obCancel()
		if oerr := p.outbox.MarkFailed(obCtx, msg.ConversationID, msg.ID, err.Error()); oerr != nil {
			logging.Warn().Err(oerr).Str("message_id", msg.ID).Msg("outbox mark-failed failed")
		}
		return
	}

	metrics.SendsTotal.WithLabelValues("success").Inc()

	// Never-demote: if the stream already confirmed delivery while the
	// HTTP response was in flight, sent must not overwrite it.
	p.store.ApplyDeliveryStates(map[string]chat.DeliveryState{msg.ID: chat.StateSent})
	if oerr := p.outbox.Remove(ctx, msg.ConversationID, msg.ID); oerr != nil {
		logging.Warn().Err(oerr).Str("message_id", msg.ID).Msg("outbox remove failed")
	}
}

// Retry re-fires a failed message with its original id, which lets the
// server deduplicate if the first attempt actually landed.
func (p *Pipeline) Retry(ctx context.Context, conversationID, messageID string) error {
	if _, err := p.gate.ActorID(); err != nil {
		return &SendError{Kind: KindIdentity, Err: err}
	}

	msg, ok := p.store.Message(conversationID, messageID)
	if !ok {
		return fmt.Errorf("retry: message %s not found in %s", messageID, conversationID)
	}
	if msg.State != chat.StateFailed {
		return fmt.Errorf("retry: message %s is %s, not failed", messageID, msg.State)
	}

	metrics.RetriesTotal.Inc()

	p.store.SetMessageState(conversationID, messageID, chat.StatePending)
	if err := p.outbox.MarkPending(ctx, conversationID, messageID); err != nil {
		logging.Warn().Err(err).Str("message_id", messageID).Msg("outbox mark-pending failed")
	}

	msg.State = chat.StatePending
	p.wg.Add(1)
	go p.deliver(msg)
	return nil
}

// Discard drops a failed message from the transcript and the outbox.
func (p *Pipeline) Discard(ctx context.Context, conversationID, messageID string) error {
	p.store.RemoveMessage(conversationID, messageID)
	return p.outbox.Remove(ctx, conversationID, messageID)
}

// MarkRead zeroes the conversation's unread counter locally, tells
// sibling instances, and reports the read to the server.
func (p *Pipeline) MarkRead(ctx context.Context, conversationID string) error {
	actor, err := p.gate.ActorID()
	if err != nil {
		return &SendError{Kind: KindIdentity, Err: err}
	}

	p.store.MarkRoomRead(conversationID, actor)
	p.broadcast(ctx, &chat.Event{
		Type:           chat.EventRead,
		Origin:         p.instance,
		ConversationID: conversationID,
		ReaderID:       actor,
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
		defer cancel()
		if err := p.api.MarkRead(ctx, conversationID); err != nil {
			logging.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark-read call failed")
		}
	}()
	return nil
}

// Reconcile fetches authoritative delivery states for the viewer's own
// unconfirmed messages and upgrades the cache. Receipt events missed
// while offline are recovered here rather than replayed.
func (p *Pipeline) Reconcile(ctx context.Context) error {
	actor, err := p.gate.ActorID()
	if err != nil {
		return &SendError{Kind: KindIdentity, Err: err}
	}

	ids := p.store.OwnUnconfirmed(actor, chat.StateRead)
	if len(ids) == 0 {
		return nil
	}

	states, err := p.api.ReconcileReceipts(ctx, ids)
	if err != nil {
		return fmt.Errorf("reconcile receipts: %w", err)
	}
	p.store.ApplyDeliveryStates(states)
	return nil
}

// Rehydrate loads durable outbox entries back into the caches after a
// restart, before any network activity.
func (p *Pipeline) Rehydrate(ctx context.Context) error {
	actor, err := p.gate.ActorID()
	if err != nil {
		return &SendError{Kind: KindIdentity, Err: err}
	}

	msgs, err := p.outbox.Rehydrate(ctx)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg.State == chat.StatePending {
			// The process died with this send in flight, so its outcome
			// is unknown. Surface it as failed: the user-driven retry
			// re-fires it under the original id, which the server can
			// deduplicate if the first attempt actually landed.
			msg.State = chat.StateFailed
			if oerr := p.outbox.MarkFailed(ctx, msg.ConversationID, msg.ID, "interrupted by restart"); oerr != nil {
				logging.Warn().Err(oerr).Str("message_id", msg.ID).Msg("outbox mark-failed failed")
			}
		}
		p.store.UpsertMessage(msg, actor)
		p.store.ApplyInboxUpdate(msg, actor, false)
	}
	if len(msgs) > 0 {
		logging.Info().Int("count", len(msgs)).Msg("rehydrated pending messages")
	}
	return nil
}

// Resync rebuilds cached state after a prolonged offline gap: reset,
// refetch the inbox, restore pending sends, reconcile receipts. Wired
// as the multiplexer's resync hook.
func (p *Pipeline) Resync(ctx context.Context) error {
	p.store.Reset()

	convs, err := p.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("resync inbox: %w", err)
	}
	for _, conv := range convs {
		p.store.UpsertConversation(conv)
	}

	if err := p.Rehydrate(ctx); err != nil {
		return err
	}
	return p.Reconcile(ctx)
}

// FetchMessages pulls a conversation's transcript into the cache,
// used when a conversation opens after a resync emptied it.
func (p *Pipeline) FetchMessages(ctx context.Context, conversationID string) error {
	actor, err := p.gate.ActorID()
	if err != nil {
		return &SendError{Kind: KindIdentity, Err: err}
	}

	msgs, err := p.api.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	for _, msg := range msgs {
		p.store.UpsertMessage(msg, actor)
	}
	return nil
}

// Drain blocks until every in-flight background call has finished.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}

func (p *Pipeline) broadcast(ctx context.Context, ev *chat.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Broadcast(ctx, ev); err != nil {
		logging.Debug().Err(err).Str("type", string(ev.Type)).Msg("bus broadcast failed")
	}
}
