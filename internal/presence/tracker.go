// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package presence tracks ephemeral per-actor state derived purely from
// streamed events: online/offline presence and per-conversation typing
// indicators. Nothing here is persisted; records are overwritten
// wholesale on each event and typing auto-expires when no follow-up
// arrives.
package presence

import (
	"sync"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
)

// DefaultTypingTTL is how long a typing indicator survives without a
// follow-up event.
const DefaultTypingTTL = 5 * time.Second

type typingEntry struct {
	expiresAt time.Time
}

// Tracker holds presence records and typing indicators.
type Tracker struct {
	mu        sync.RWMutex
	presence  map[string]chat.PresenceRecord
	typing    map[string]map[string]typingEntry // room -> actor -> expiry
	typingTTL time.Duration

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewTracker creates a tracker with the given typing TTL (zero means
// DefaultTypingTTL).
func NewTracker(typingTTL time.Duration) *Tracker {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &Tracker{
		presence:  make(map[string]chat.PresenceRecord),
		typing:    make(map[string]map[string]typingEntry),
		typingTTL: typingTTL,
		now:       time.Now,
	}
}

// ApplyPresence replaces an actor's presence record wholesale.
func (t *Tracker) ApplyPresence(rec *chat.PresenceRecord) {
	if rec == nil || rec.ActorID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presence[rec.ActorID] = *rec
}

// Presence returns an actor's record, if any event has been seen.
func (t *Tracker) Presence(actorID string) (chat.PresenceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.presence[actorID]
	return rec, ok
}

// ApplyTyping starts or stops a typing indicator. A start is refreshed
// by each follow-up event and expires on its own after the TTL; a stop
// clears immediately.
func (t *Tracker) ApplyTyping(roomID, actorID string, typing bool) {
	if roomID == "" || actorID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.typing[roomID]
	if !ok {
		if !typing {
			return
		}
		room = make(map[string]typingEntry)
		t.typing[roomID] = room
	}

	if typing {
		room[actorID] = typingEntry{expiresAt: t.now().Add(t.typingTTL)}
		return
	}
	delete(room, actorID)
	if len(room) == 0 {
		delete(t.typing, roomID)
	}
}

// Typing returns the actors currently typing in a conversation. Expired
// indicators are evicted on read, so no background sweeper is needed
// for correctness.
func (t *Tracker) Typing(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.typing[roomID]
	if !ok {
		return nil
	}

	now := t.now()
	var actors []string
	for actor, entry := range room {
		if now.After(entry.expiresAt) {
			delete(room, actor)
			continue
		}
		actors = append(actors, actor)
	}
	if len(room) == 0 {
		delete(t.typing, roomID)
	}
	return actors
}

// Reset drops all ephemeral state. Called on logout and full resync.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presence = make(map[string]chat.PresenceRecord)
	t.typing = make(map[string]map[string]typingEntry)
}
