// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package mux

import (
	"context"
	"sync"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
	"github.com/vicinity-app/chatsync/internal/presence"
	"github.com/vicinity-app/chatsync/internal/store"
)

// PendingRemover drops an entry from durable pending storage. Satisfied
// by *outbox.Outbox; may be nil when rollbacks need no durable cleanup.
type PendingRemover interface {
	Remove(ctx context.Context, conversationID, messageID string) error
}

// Dispatcher routes canonical events to the cache operations they
// imply. Every inbound path converges here: the websocket streams and
// the sibling-instance bus both feed Dispatch, so echo suppression and
// the event-to-operation table live in exactly one place.
type Dispatcher struct {
	store    *store.Store
	presence *presence.Tracker
	pending  PendingRemover
	viewerID func() string
	instance string

	mu          sync.Mutex
	activeRoom  string
	roomVisible bool
}

// NewDispatcher builds a dispatcher applying events on behalf of the
// viewer returned by viewerID. instance identifies this process for
// echo suppression; events carrying it as origin are discarded.
func NewDispatcher(st *store.Store, pt *presence.Tracker, pending PendingRemover, viewerID func() string, instance string) *Dispatcher {
	return &Dispatcher{
		store:    st,
		presence: pt,
		pending:  pending,
		viewerID: viewerID,
		instance: instance,
	}
}

// SetActive records which conversation the viewer currently has open
// and whether that view is visible. Unread accounting for incoming
// messages consults this; pass an empty id when no conversation is open.
func (d *Dispatcher) SetActive(conversationID string, visible bool) {
	d.mu.Lock()
	d.activeRoom = conversationID
	d.roomVisible = visible
	d.mu.Unlock()
}

func (d *Dispatcher) activeVisible(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeRoom == conversationID && d.roomVisible
}

// Dispatch applies one canonical event. Events originating from this
// instance are echoes of our own optimistic writes and are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *chat.Event) {
	if ev.Origin != "" && ev.Origin == d.instance {
		metrics.EventsDropped.WithLabelValues("echo").Inc()
		return
	}
	viewer := d.viewerID()
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case chat.EventNewMessage:
		d.store.UpsertMessage(ev.Message, viewer)
		d.store.ApplyInboxUpdate(ev.Message, viewer, d.activeVisible(ev.Message.ConversationID))
	case chat.EventTyping:
		d.presence.ApplyTyping(ev.ConversationID, ev.SenderID, ev.Typing)
	case chat.EventDelivered:
		d.store.ApplyDeliveryUpdate(ev.ConversationID, viewer, ev.MessageID)
	case chat.EventRead:
		if ev.ReaderID == viewer {
			// Our own read on another device or sibling instance.
			d.store.MarkRoomRead(ev.ConversationID, viewer)
		} else {
			d.store.ApplyReadReceipt(ev.ConversationID, viewer)
		}
	case chat.EventPresence:
		d.presence.ApplyPresence(ev.Presence)
	case chat.EventMessageDeleted:
		d.store.RemoveMessage(ev.ConversationID, ev.MessageID)
	case chat.EventMessageReaction:
		d.store.ApplyReaction(ev.ConversationID, ev.MessageID, ev.Reactions)
	case chat.EventRollback:
		d.store.RemoveMessage(ev.ConversationID, ev.MessageID)
		if d.pending != nil {
			if err := d.pending.Remove(ctx, ev.ConversationID, ev.MessageID); err != nil {
				logging.Warn().Err(err).
					Str("conversation_id", ev.ConversationID).
					Str("message_id", ev.MessageID).
					Msg("rollback: pending entry not removed")
			}
		}
	default:
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
	}
	metrics.StoreMessages.Set(float64(d.store.MessageCount()))
}
