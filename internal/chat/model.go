// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package chat

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryState describes how far an outgoing message has progressed.
//
// The states form a lattice: pending < sent < delivered < read.
// StateFailed is a side state reachable only from pending; a failed
// message is retained in the transcript until the user retries or
// discards it.
type DeliveryState string

const (
	// StatePending marks an optimistic message not yet acknowledged by
	// the server.
	StatePending DeliveryState = "pending"
	// StateSent marks a message the server has stored.
	StateSent DeliveryState = "sent"
	// StateDelivered marks a message the counterpart's client has received.
	StateDelivered DeliveryState = "delivered"
	// StateRead marks a message the counterpart has seen.
	StateRead DeliveryState = "read"
	// StateFailed marks a message whose send attempt failed. It stays
	// visible so the user can retry with the same id.
	StateFailed DeliveryState = "failed"
)

// rank orders the progress states for never-demote comparisons.
// Unknown and failed states rank lowest.
func (s DeliveryState) rank() int {
	switch s {
	case StatePending:
		return 1
	case StateSent:
		return 2
	case StateDelivered:
		return 3
	case StateRead:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s has progressed at least as far as other.
func (s DeliveryState) AtLeast(other DeliveryState) bool {
	return s.rank() >= other.rank()
}

// MessageType identifies the payload kind of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeSighting MessageType = "sighting"
	MessageTypeLocation MessageType = "location"
)

// ReplyRef is a denormalized reference to the message being replied to.
// The snippet is carried so the reply renders without a second lookup.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Snippet   string `json:"snippet,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Message is the canonical message record.
//
// The id is generated client-side (uuid) and reused verbatim as the
// durable identifier; the server never mints a replacement. This is what
// makes retry idempotent: resending after a failure reuses the same id,
// and the server-confirmed echo upserts over the optimistic entry
// instead of duplicating it.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Caption        string        `json:"caption,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	State          DeliveryState `json:"state,omitempty"`
	ReplyTo        *ReplyRef     `json:"reply_to,omitempty"`

	// Reactions maps emoji to the set of reactor ids. A reactor holds at
	// most one emoji across the whole map; reaction events replace the
	// map wholesale.
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// NewMessage creates an optimistic outgoing message in pending state
// with a client-generated id and a UTC creation timestamp.
func NewMessage(conversationID, senderID, content string, typ MessageType) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		CreatedAt:      time.Now().UTC(),
		State:          StatePending,
	}
}

// Validate checks the fields required to place a message into a cache.
func (m *Message) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if m.ConversationID == "" {
		return &ValidationError{Field: "conversation_id", Message: "required"}
	}
	if m.SenderID == "" {
		return &ValidationError{Field: "sender_id", Message: "required"}
	}
	return nil
}

// Clone returns a deep copy. Cache accessors return clones so callers
// can never mutate store-owned records in place.
func (m *Message) Clone() *Message {
	c := *m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, who := range m.Reactions {
			c.Reactions[emoji] = append([]string(nil), who...)
		}
	}
	return &c
}

// Before reports whether m sorts before other under the display-order
// invariant: creation timestamp ascending, ties broken by id.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Preview is the last-message snapshot shown on an inbox row.
type Preview struct {
	Content   string      `json:"content"`
	SenderID  string      `json:"sender_id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// Conversation is an inbox row: a two-(or more-)party thread, the unit
// of unread counting and ordering. Conversations are never deleted
// client-side; archiving hides them.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants,omitempty"`
	LastMessage  *Preview `json:"last_message,omitempty"`

	// Unread is the non-negative unread counter.
	Unread int `json:"unread"`

	Pinned         bool `json:"pinned,omitempty"`
	Archived       bool `json:"archived,omitempty"`
	ManuallyUnread bool `json:"manually_unread,omitempty"`

	// ReportID links the thread to a civic incident report. Carried as
	// an opaque reference; resolution belongs to the reports subsystem.
	ReportID string `json:"report_id,omitempty"`

	// UpdatedAt drives inbox ordering (most recent activity first).
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cc := *c
	cc.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		p := *c.LastMessage
		cc.LastMessage = &p
	}
	return &cc
}

// PresenceStatus is the online/offline state of an actor.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord is ephemeral per-actor presence, derived purely from
// streamed events and overwritten wholesale on each one.
type PresenceRecord struct {
	ActorID  string         `json:"actor_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
