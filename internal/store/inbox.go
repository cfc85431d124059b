// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package store

import (
	"sort"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
)

// ApplyInboxUpdate moves the owning conversation to the top of the
// inbox, refreshes its preview, and increments the unread counter iff
// the message was not authored by the viewer and the conversation is
// not the one the viewer is actively looking at. When the conversation
// is active the counter is left untouched; the UI immediately marks it
// read.
//
// A conversation unknown to the inbox is created on the spot, matching
// the lifecycle rule that a conversation exists from its first message.
func (s *Store) ApplyInboxUpdate(msg *chat.Message, viewerID string, activeAndVisible bool) {
	if msg == nil || msg.ConversationID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.inbox[msg.ConversationID]
	if !ok {
		conv = &chat.Conversation{ID: msg.ConversationID}
		if msg.SenderID != "" {
			conv.Participants = append(conv.Participants, msg.SenderID)
		}
		if viewerID != "" && viewerID != msg.SenderID {
			conv.Participants = append(conv.Participants, viewerID)
		}
		s.inbox[conv.ID] = conv
	}

	conv.LastMessage = &chat.Preview{
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		Timestamp: msg.CreatedAt,
		Type:      msg.Type,
	}
	conv.UpdatedAt = msg.CreatedAt
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}
	// New activity surfaces an archived thread again.
	conv.Archived = false

	if msg.SenderID != viewerID && !activeAndVisible {
		conv.Unread++
	}
}

// MarkRoomRead resets the unread counter to zero, clears the
// manually-unread flag, and flips the conversation's unread incoming
// messages to read. No-op for unknown conversations.
func (s *Store) MarkRoomRead(roomID, viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.inbox[roomID]; ok {
		conv.Unread = 0
		conv.ManuallyUnread = false
	}

	for _, m := range s.order[roomID] {
		if m.SenderID != viewerID && !m.State.AtLeast(chat.StateRead) && m.State != chat.StateFailed {
			m.State = chat.StateRead
		}
	}
}

// MarkUnread sets the manually-unread flag so the thread surfaces as
// unread without inventing a counter value.
func (s *Store) MarkUnread(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.inbox[roomID]; ok {
		conv.ManuallyUnread = true
	}
}

// SetPinned flips the pin flag. Pinned conversations sort above the
// rest of the inbox regardless of recency.
func (s *Store) SetPinned(roomID string, pinned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.inbox[roomID]; ok {
		conv.Pinned = pinned
	}
}

// SetArchived flips the archive flag. Archiving hides a conversation
// from the default inbox; nothing is ever physically deleted.
func (s *Store) SetArchived(roomID string, archived bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.inbox[roomID]; ok {
		conv.Archived = archived
	}
}

// UpsertConversation inserts or replaces an inbox row. Used when the
// conversation list is fetched from the server on session start.
func (s *Store) UpsertConversation(conv *chat.Conversation) {
	if conv == nil || conv.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox[conv.ID] = conv.Clone()
}

// Conversation returns a copy of one inbox row, if present.
func (s *Store) Conversation(roomID string) (*chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.inbox[roomID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// Inbox returns the non-archived conversations in display order: pinned
// first, then most recent activity first, ties broken by id for
// deterministic output.
func (s *Store) Inbox() []*chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*chat.Conversation, 0, len(s.inbox))
	for _, conv := range s.inbox {
		if conv.Archived {
			continue
		}
		out = append(out, conv.Clone())
	}
	sortInbox(out)
	return out
}

// Archived returns the archived conversations, most recent first.
func (s *Store) Archived() []*chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*chat.Conversation, 0)
	for _, conv := range s.inbox {
		if conv.Archived {
			out = append(out, conv.Clone())
		}
	}
	sortInbox(out)
	return out
}

func sortInbox(list []*chat.Conversation) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}
