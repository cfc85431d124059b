// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package chat

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnresolvableFrame marks a frame missing the fields required to
// resolve it into a canonical event. Such frames are dropped and logged,
// never surfaced to the UI.
var ErrUnresolvableFrame = errors.New("chat: unresolvable frame")

// frame mirrors every wire shape the streaming channel is known to emit.
// The server fan-out nests the message under different keys depending on
// the event source, and older emitters use alternate field names for the
// event type, room id, and origin. All of that duck typing ends here.
type frame struct {
	Type  string `json:"type"`
	Event string `json:"event"`

	Origin   string `json:"origin"`
	ClientID string `json:"client_id"`

	ConversationID string `json:"conversation_id"`
	RoomID         string `json:"room_id"`

	// The message may arrive nested under any of these keys, as a full
	// object, a partial patch, or a bare id string.
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
	Payload json.RawMessage `json:"payload"`

	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	ReaderID  string `json:"reader_id"`

	Typing *bool `json:"typing"`

	ActorID  string     `json:"actor_id"`
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen"`

	Reactions map[string][]string `json:"reactions"`
}

// Normalize parses a raw frame into a canonical Event.
//
// It returns ErrUnresolvableFrame (possibly wrapped) when the frame
// cannot be resolved; callers drop such frames without crashing the
// multiplexer.
func Normalize(raw []byte) (*Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvableFrame, err)
	}

	typ := f.Type
	if typ == "" {
		typ = f.Event
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrUnresolvableFrame)
	}

	ev := &Event{
		Type:           EventType(typ),
		Origin:         firstNonEmpty(f.Origin, f.ClientID),
		ConversationID: firstNonEmpty(f.ConversationID, f.RoomID),
		MessageID:      f.MessageID,
		SenderID:       f.SenderID,
		ReaderID:       f.ReaderID,
		Reactions:      f.Reactions,
		ReceivedAt:     time.Now().UTC(),
	}
	if ev.Type == EventPresenceUpdate {
		ev.Type = EventPresence
	}
	if f.Typing != nil {
		ev.Typing = *f.Typing
	}

	switch ev.Type {
	case EventNewMessage:
		msg, err := resolveMessage(f)
		if err != nil {
			return nil, err
		}
		if msg.ConversationID == "" {
			msg.ConversationID = ev.ConversationID
		}
		if msg.SenderID == "" {
			msg.SenderID = ev.SenderID
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvableFrame, err)
		}
		ev.Message = msg
		ev.ConversationID = msg.ConversationID
		ev.MessageID = msg.ID
		ev.SenderID = msg.SenderID

	case EventPresence:
		actor := firstNonEmpty(f.ActorID, f.UserID, f.SenderID)
		if actor == "" {
			return nil, fmt.Errorf("%w: presence without actor id", ErrUnresolvableFrame)
		}
		rec := &PresenceRecord{ActorID: actor, Status: PresenceStatus(f.Status)}
		if rec.Status != PresenceOnline {
			rec.Status = PresenceOffline
		}
		if f.LastSeen != nil {
			rec.LastSeen = f.LastSeen.UTC()
		}
		ev.Presence = rec
	}

	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvableFrame, err)
	}
	return ev, nil
}

// resolveMessage extracts the message from whichever key carries it and
// whichever of the three shapes it takes. Partial patches resolve as
// long as they carry an id; bare ids resolve to an id-only record that
// upserts over an existing optimistic entry.
func resolveMessage(f frame) (*Message, error) {
	raw := f.Message
	if len(raw) == 0 {
		raw = f.Data
	}
	if len(raw) == 0 {
		raw = f.Payload
	}
	if len(raw) == 0 {
		// Bare-id frames put the id at the top level.
		if f.MessageID == "" {
			return nil, fmt.Errorf("%w: new-message without message body or id", ErrUnresolvableFrame)
		}
		return &Message{ID: f.MessageID}, nil
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		// Bare id as a JSON string.
		var id string
		if err := json.Unmarshal(raw, &id); err != nil || id == "" {
			return nil, fmt.Errorf("%w: malformed bare message id", ErrUnresolvableFrame)
		}
		return &Message{ID: id}, nil
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvableFrame, err)
	}
	if msg.ID == "" {
		msg.ID = f.MessageID
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("%w: message without id", ErrUnresolvableFrame)
	}
	return &msg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
