// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package store

import (
	"sort"
	"sync"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/metrics"
)

// Store owns the per-conversation message cache and the inbox cache for
// one session. It is constructed once per session, passed by reference
// to the multiplexer and the send pipeline, and torn down on logout.
//
// The mutex stands in for the run-to-completion scheduling the engine
// was designed against: every mutation runs to completion before the
// next one is observed, so callers always see a consistent (if
// optimistic) cache.
type Store struct {
	mu sync.RWMutex

	// messages holds each conversation's transcript: an id index for
	// idempotent upserts plus a slice kept sorted under the display
	// ordering invariant.
	byID  map[string]map[string]*chat.Message
	order map[string][]*chat.Message

	inbox map[string]*chat.Conversation
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID:  make(map[string]map[string]*chat.Message),
		order: make(map[string][]*chat.Message),
		inbox: make(map[string]*chat.Conversation),
	}
}

// UpsertMessage inserts or replaces a message by id and re-sorts the
// conversation's transcript. Calling it twice with the same id yields
// exactly one entry whose fields are the later call's (partial records
// keep the fields they do not carry, so a server echo over an
// optimistic insert never wipes content).
//
// Messages authored by someone other than the viewer default to the
// delivered state on first insert: receiving the event is the delivery.
func (s *Store) UpsertMessage(msg *chat.Message, viewerID string) {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	roomID := msg.ConversationID
	index, ok := s.byID[roomID]
	if !ok {
		index = make(map[string]*chat.Message)
		s.byID[roomID] = index
	}

	if existing, ok := index[msg.ID]; ok {
		merge(existing, msg)
		s.resort(roomID)
		return
	}

	stored := msg.Clone()
	if stored.State == "" && stored.SenderID != "" && stored.SenderID != viewerID {
		stored.State = chat.StateDelivered
	}
	index[stored.ID] = stored
	s.order[roomID] = append(s.order[roomID], stored)
	s.resort(roomID)
	metrics.StoreMessages.Inc()
}

// merge applies an upsert over an existing record. Later fields win;
// fields the incoming record does not carry are kept, and an incoming
// zero/unknown delivery state never demotes the existing one.
func merge(dst, src *chat.Message) {
	if src.SenderID != "" {
		dst.SenderID = src.SenderID
	}
	if src.Content != "" {
		dst.Content = src.Content
	}
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.Caption != "" {
		dst.Caption = src.Caption
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if src.State != "" {
		dst.State = src.State
	}
	if src.ReplyTo != nil {
		r := *src.ReplyTo
		dst.ReplyTo = &r
	}
	if src.Reactions != nil {
		dst.Reactions = make(map[string][]string, len(src.Reactions))
		for emoji, who := range src.Reactions {
			dst.Reactions[emoji] = append([]string(nil), who...)
		}
	}
}

// resort re-establishes the ordering invariant for one conversation:
// creation timestamp ascending, ties broken by id.
func (s *Store) resort(roomID string) {
	msgs := s.order[roomID]
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}

// RemoveMessage deletes a message from the conversation. Used for
// explicit deletes, remote deletion events, and server rollbacks of
// rejected optimistic sends. No-op when the message is unknown.
func (s *Store) RemoveMessage(roomID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.byID[roomID]
	if !ok {
		return
	}
	if _, ok := index[messageID]; !ok {
		return
	}
	delete(index, messageID)

	msgs := s.order[roomID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.order[roomID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	metrics.StoreMessages.Dec()
}

// ApplyReaction replaces a message's reaction map wholesale. Reaction
// frames carry only a message id, so an empty roomID resolves the
// conversation by scanning the id index. No-op when the message is
// unknown.
func (s *Store) ApplyReaction(roomID, messageID string, reactions map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msg *chat.Message
	if roomID != "" {
		if index, ok := s.byID[roomID]; ok {
			msg = index[messageID]
		}
	} else {
		for _, index := range s.byID {
			if m, ok := index[messageID]; ok {
				msg = m
				break
			}
		}
	}
	if msg == nil {
		return
	}

	if reactions == nil {
		msg.Reactions = nil
		return
	}
	msg.Reactions = make(map[string][]string, len(reactions))
	for emoji, who := range reactions {
		msg.Reactions[emoji] = append([]string(nil), who...)
	}
}

// ApplyDeliveryUpdate flips the viewer's own outgoing messages up to and
// including the referenced message to delivered. An empty reference
// covers the whole transcript. Messages already past delivered keep
// their state.
func (s *Store) ApplyDeliveryUpdate(roomID, viewerID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.order[roomID] {
		if m.SenderID == viewerID && !m.State.AtLeast(chat.StateDelivered) && m.State != chat.StateFailed {
			m.State = chat.StateDelivered
		}
		if messageID != "" && m.ID == messageID {
			break
		}
	}
}

// ApplyReadReceipt flips all of the viewer's own outgoing messages in
// the conversation to read. The counterpart acknowledged the whole
// conversation, so no per-message reference is needed.
func (s *Store) ApplyReadReceipt(roomID, viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.order[roomID] {
		if m.SenderID == viewerID && m.State != chat.StateFailed {
			m.State = chat.StateRead
		}
	}
}

// Messages returns a copy of the conversation's transcript in display
// order. The copies are deep; callers cannot mutate the cache.
func (s *Store) Messages(roomID string) []*chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.order[roomID]
	out := make([]*chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out
}

// Message returns a copy of a single message, if present.
func (s *Store) Message(roomID, messageID string) (*chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, ok := s.byID[roomID]
	if !ok {
		return nil, false
	}
	msg, ok := index[messageID]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// OwnUnconfirmed returns ids of the viewer's own messages still below
// the given state. The send pipeline uses this to build receipt
// reconciliation batches after a resync.
func (s *Store) OwnUnconfirmed(viewerID string, below chat.DeliveryState) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, msgs := range s.order {
		for _, m := range msgs {
			if m.SenderID == viewerID && m.State != chat.StateFailed && m.State != chat.StatePending && !m.State.AtLeast(below) {
				ids = append(ids, m.ID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// SetMessageState overwrites a message's delivery state unconditionally.
// This is the send pipeline's transition edge (pending to failed and
// back); stream-driven receipt paths go through the never-demote
// operations instead.
func (s *Store) SetMessageState(roomID, messageID string, state chat.DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msgs, ok := s.byID[roomID]; ok {
		if m, ok := msgs[messageID]; ok {
			m.State = state
		}
	}
}

// ApplyDeliveryStates upgrades messages wherever the reported state has
// progressed further than the cached one. States never demote; unknown
// ids are ignored. Used when reconciling receipts after a resync.
func (s *Store) ApplyDeliveryStates(states map[string]chat.DeliveryState) {
	if len(states) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msgs := range s.byID {
		for id, m := range msgs {
			reported, ok := states[id]
			if !ok || m.State == chat.StateFailed {
				continue
			}
			if reported.AtLeast(m.State) {
				m.State = reported
			}
		}
	}
}

// MessageCount reports the number of cached messages across all
// conversations.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, msgs := range s.order {
		n += len(msgs)
	}
	return n
}

// Reset drops every cached conversation and message. Used on logout and
// by the resync hook before a full refetch.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]map[string]*chat.Message)
	s.order = make(map[string][]*chat.Message)
	s.inbox = make(map[string]*chat.Conversation)
	metrics.StoreMessages.Set(0)
}
