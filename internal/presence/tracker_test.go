// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package presence

import (
	"testing"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
)

func TestPresenceReplaceWholesale(t *testing.T) {
	tr := NewTracker(0)
	seen := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	tr.ApplyPresence(&chat.PresenceRecord{ActorID: "bob", Status: chat.PresenceOnline, LastSeen: seen})
	tr.ApplyPresence(&chat.PresenceRecord{ActorID: "bob", Status: chat.PresenceOffline, LastSeen: seen.Add(time.Minute)})

	rec, ok := tr.Presence("bob")
	if !ok {
		t.Fatal("presence record missing")
	}
	if rec.Status != chat.PresenceOffline {
		t.Errorf("later event should replace earlier, got %s", rec.Status)
	}
	if !rec.LastSeen.Equal(seen.Add(time.Minute)) {
		t.Errorf("last-seen not replaced: %v", rec.LastSeen)
	}

	if _, ok := tr.Presence("ghost"); ok {
		t.Error("unknown actor should have no record")
	}
}

func TestTypingExpires(t *testing.T) {
	tr := NewTracker(5 * time.Second)
	current := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	tr.ApplyTyping("c1", "bob", true)
	if got := tr.Typing("c1"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected bob typing, got %v", got)
	}

	// A follow-up event refreshes the deadline.
	current = current.Add(4 * time.Second)
	tr.ApplyTyping("c1", "bob", true)
	current = current.Add(4 * time.Second)
	if got := tr.Typing("c1"); len(got) != 1 {
		t.Errorf("refreshed indicator expired early: %v", got)
	}

	// Without a follow-up the indicator expires on its own.
	current = current.Add(6 * time.Second)
	if got := tr.Typing("c1"); len(got) != 0 {
		t.Errorf("indicator should have expired, got %v", got)
	}
}

func TestTypingStopClearsImmediately(t *testing.T) {
	tr := NewTracker(0)

	tr.ApplyTyping("c1", "bob", true)
	tr.ApplyTyping("c1", "bob", false)

	if got := tr.Typing("c1"); len(got) != 0 {
		t.Errorf("stop event should clear immediately, got %v", got)
	}

	// Stop for an unknown room is a no-op.
	tr.ApplyTyping("ghost", "bob", false)
}

func TestReset(t *testing.T) {
	tr := NewTracker(0)
	tr.ApplyPresence(&chat.PresenceRecord{ActorID: "bob", Status: chat.PresenceOnline})
	tr.ApplyTyping("c1", "bob", true)

	tr.Reset()

	if _, ok := tr.Presence("bob"); ok {
		t.Error("presence survived reset")
	}
	if got := tr.Typing("c1"); len(got) != 0 {
		t.Errorf("typing survived reset: %v", got)
	}
}
