// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package store

import (
	"testing"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
)

func TestUnreadAccounting(t *testing.T) {
	s := New()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Inbound while the conversation is not on screen: counts.
	s.ApplyInboxUpdate(msgAt("m1", "c1", "bob", "hi", at), "alice", false)
	conv, _ := s.Conversation("c1")
	if conv.Unread != 1 {
		t.Errorf("expected unread=1, got %d", conv.Unread)
	}

	// Inbound while the viewer is looking at the conversation: does not.
	s.ApplyInboxUpdate(msgAt("m2", "c1", "bob", "again", at.Add(time.Second)), "alice", true)
	conv, _ = s.Conversation("c1")
	if conv.Unread != 1 {
		t.Errorf("active conversation must not accumulate unread, got %d", conv.Unread)
	}

	// The viewer's own message never counts.
	s.ApplyInboxUpdate(msgAt("m3", "c1", "alice", "mine", at.Add(2*time.Second)), "alice", false)
	conv, _ = s.Conversation("c1")
	if conv.Unread != 1 {
		t.Errorf("own message incremented unread: %d", conv.Unread)
	}
}

func TestApplyInboxUpdateCreatesConversation(t *testing.T) {
	s := New()
	at := time.Now().UTC()

	s.ApplyInboxUpdate(msgAt("m1", "c-new", "bob", "first contact", at), "alice", false)

	conv, ok := s.Conversation("c-new")
	if !ok {
		t.Fatal("conversation not created on first message")
	}
	if conv.LastMessage == nil || conv.LastMessage.Content != "first contact" {
		t.Errorf("preview not populated: %+v", conv.LastMessage)
	}
	if len(conv.Participants) != 2 {
		t.Errorf("expected both participants, got %v", conv.Participants)
	}
}

func TestMarkRoomRead(t *testing.T) {
	s := New()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s.UpsertMessage(msgAt("m1", "c1", "bob", "a", at), "alice")
	s.UpsertMessage(msgAt("m2", "c1", "bob", "b", at.Add(time.Second)), "alice")
	s.ApplyInboxUpdate(msgAt("m2", "c1", "bob", "b", at.Add(time.Second)), "alice", false)
	s.MarkUnread("c1")

	s.MarkRoomRead("c1", "alice")

	conv, _ := s.Conversation("c1")
	if conv.Unread != 0 {
		t.Errorf("expected unread=0, got %d", conv.Unread)
	}
	if conv.ManuallyUnread {
		t.Error("manually-unread flag should clear on read")
	}
	for _, id := range []string{"m1", "m2"} {
		m, _ := s.Message("c1", id)
		if m.State != chat.StateRead {
			t.Errorf("%s should be read, got %s", id, m.State)
		}
	}

	// Unknown conversation is a no-op, not a panic.
	s.MarkRoomRead("ghost", "alice")
}

func TestInboxOrdering(t *testing.T) {
	s := New()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s.ApplyInboxUpdate(msgAt("m1", "old", "bob", "x", base), "alice", false)
	s.ApplyInboxUpdate(msgAt("m2", "recent", "bob", "y", base.Add(time.Hour)), "alice", false)
	s.ApplyInboxUpdate(msgAt("m3", "pinned-old", "bob", "z", base.Add(-time.Hour)), "alice", false)
	s.SetPinned("pinned-old", true)

	inbox := s.Inbox()
	want := []string{"pinned-old", "recent", "old"}
	if len(inbox) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(inbox))
	}
	for i, id := range want {
		if inbox[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, inbox[i].ID)
		}
	}
}

func TestArchiveHidesAndActivityUnhides(t *testing.T) {
	s := New()
	at := time.Now().UTC()

	s.ApplyInboxUpdate(msgAt("m1", "c1", "bob", "x", at), "alice", false)
	s.SetArchived("c1", true)

	if len(s.Inbox()) != 0 {
		t.Error("archived conversation still in default inbox")
	}
	if len(s.Archived()) != 1 {
		t.Error("archived conversation missing from archived list")
	}

	// New activity surfaces the thread again.
	s.ApplyInboxUpdate(msgAt("m2", "c1", "bob", "y", at.Add(time.Second)), "alice", false)
	if len(s.Inbox()) != 1 {
		t.Error("new activity should unarchive the conversation")
	}
}

func TestUpsertConversationCopies(t *testing.T) {
	s := New()
	conv := &chat.Conversation{ID: "c1", Participants: []string{"alice", "bob"}, ReportID: "report-7"}
	s.UpsertConversation(conv)

	conv.Participants[0] = "mallory"

	got, _ := s.Conversation("c1")
	if got.Participants[0] != "alice" {
		t.Error("store shares memory with caller-owned conversation")
	}
	if got.ReportID != "report-7" {
		t.Errorf("report link lost: %q", got.ReportID)
	}
}
