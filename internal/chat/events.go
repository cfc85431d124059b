// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package chat

import "time"

// EventType enumerates the closed set of server event kinds the engine
// understands. Anything else is dropped at the normalization boundary.
type EventType string

const (
	// EventNewMessage carries a full or partial message for a conversation.
	EventNewMessage EventType = "new-message"
	// EventTyping signals the counterpart started or stopped typing.
	EventTyping EventType = "typing"
	// EventDelivered acknowledges delivery of a specific message.
	EventDelivered EventType = "message.delivered"
	// EventRead acknowledges that a reader has seen a conversation.
	EventRead EventType = "message.read"
	// EventPresence replaces an actor's presence record.
	EventPresence EventType = "presence"
	// EventPresenceUpdate is the alternate wire name for EventPresence.
	EventPresenceUpdate EventType = "presence-update"
	// EventMessageDeleted removes a message from the conversation.
	EventMessageDeleted EventType = "message-deleted"
	// EventMessageReaction replaces a message's reaction map.
	EventMessageReaction EventType = "message-reaction"
	// EventRollback removes an optimistic message the server rejected.
	EventRollback EventType = "chat-rollback"
)

// Event is the canonical tagged record every inbound frame is normalized
// into. Only the fields relevant to the event type are populated.
type Event struct {
	Type EventType `json:"type"`

	// Origin is the client-instance id that caused the event. Events
	// originated by the local instance are discarded (echo suppression).
	Origin string `json:"origin,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`

	// Message is set for EventNewMessage.
	Message *Message `json:"message,omitempty"`

	// Typing is set for EventTyping.
	Typing bool `json:"typing,omitempty"`

	// ReaderID is set for EventRead.
	ReaderID string `json:"reader_id,omitempty"`

	// Presence is set for EventPresence / EventPresenceUpdate.
	Presence *PresenceRecord `json:"presence,omitempty"`

	// Reactions is set for EventMessageReaction.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// ReceivedAt is when the local instance normalized the frame.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate checks that the event carries the fields its type requires.
func (e *Event) Validate() error {
	switch e.Type {
	case EventNewMessage:
		if e.Message == nil {
			return &ValidationError{Field: "message", Message: "required"}
		}
		return e.Message.Validate()
	case EventTyping:
		if e.ConversationID == "" {
			return &ValidationError{Field: "conversation_id", Message: "required"}
		}
		if e.SenderID == "" {
			return &ValidationError{Field: "sender_id", Message: "required"}
		}
	case EventDelivered, EventMessageDeleted, EventRollback:
		if e.ConversationID == "" {
			return &ValidationError{Field: "conversation_id", Message: "required"}
		}
		if e.MessageID == "" {
			return &ValidationError{Field: "message_id", Message: "required"}
		}
	case EventMessageReaction:
		// Reaction frames carry only the message id and the reaction
		// map; the cache authority resolves the conversation.
		if e.MessageID == "" {
			return &ValidationError{Field: "message_id", Message: "required"}
		}
	case EventRead:
		if e.ConversationID == "" {
			return &ValidationError{Field: "conversation_id", Message: "required"}
		}
		if e.ReaderID == "" {
			return &ValidationError{Field: "reader_id", Message: "required"}
		}
	case EventPresence, EventPresenceUpdate:
		if e.Presence == nil || e.Presence.ActorID == "" {
			return &ValidationError{Field: "presence.actor_id", Message: "required"}
		}
	default:
		return &ValidationError{Field: "type", Message: "unknown event type " + string(e.Type)}
	}
	return nil
}
