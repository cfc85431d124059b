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

func msgAt(id, room, sender, content string, at time.Time) *chat.Message {
	return &chat.Message{
		ID:             id,
		ConversationID: room,
		SenderID:       sender,
		Content:        content,
		Type:           chat.MessageTypeText,
		CreatedAt:      at,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := New()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	first := msgAt("m1", "c1", "alice", "first", at)
	first.State = chat.StatePending
	s.UpsertMessage(first, "alice")

	second := msgAt("m1", "c1", "alice", "second", at)
	second.State = chat.StateSent
	s.UpsertMessage(second, "alice")

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(msgs))
	}
	if msgs[0].Content != "second" {
		t.Errorf("second call's fields should win, got %q", msgs[0].Content)
	}
	if msgs[0].State != chat.StateSent {
		t.Errorf("expected sent, got %s", msgs[0].State)
	}
}

func TestUpsertPartialKeepsExistingFields(t *testing.T) {
	s := New()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	full := msgAt("m1", "c1", "alice", "hello", at)
	full.State = chat.StatePending
	s.UpsertMessage(full, "alice")

	// Server echo resolved from a bare-id frame: id only.
	patch := &chat.Message{ID: "m1", ConversationID: "c1"}
	s.UpsertMessage(patch, "alice")

	got, ok := s.Message("c1", "m1")
	if !ok {
		t.Fatal("message missing after patch upsert")
	}
	if got.Content != "hello" {
		t.Errorf("patch wiped content: %q", got.Content)
	}
	if got.State != chat.StatePending {
		t.Errorf("zero-state patch demoted state to %s", got.State)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("patch wiped timestamp: %v", got.CreatedAt)
	}
}

func TestOrderingInvariant(t *testing.T) {
	s := New()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Deliver deliberately out of order, including a timestamp tie.
	s.UpsertMessage(msgAt("m3", "c1", "bob", "third", base.Add(2*time.Second)), "alice")
	s.UpsertMessage(msgAt("m1", "c1", "bob", "first", base), "alice")
	s.UpsertMessage(msgAt("m2b", "c1", "bob", "tie-b", base.Add(time.Second)), "alice")
	s.UpsertMessage(msgAt("m2a", "c1", "bob", "tie-a", base.Add(time.Second)), "alice")

	msgs := s.Messages("c1")
	want := []string{"m1", "m2a", "m2b", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestIncomingMessageDefaultsToDelivered(t *testing.T) {
	s := New()
	s.UpsertMessage(msgAt("m1", "c1", "bob", "hi", time.Now().UTC()), "alice")

	got, _ := s.Message("c1", "m1")
	if got.State != chat.StateDelivered {
		t.Errorf("incoming message should default to delivered, got %s", got.State)
	}
}

func TestRemoveMessage(t *testing.T) {
	s := New()
	at := time.Now().UTC()
	s.UpsertMessage(msgAt("m1", "c1", "bob", "a", at), "alice")
	s.UpsertMessage(msgAt("m2", "c1", "bob", "b", at.Add(time.Second)), "alice")

	s.RemoveMessage("c1", "m1")

	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Errorf("unexpected transcript after removal: %+v", msgs)
	}

	// Unknown room and unknown message are no-ops.
	s.RemoveMessage("nope", "m1")
	s.RemoveMessage("c1", "nope")
}

func TestApplyDeliveryAndReadReceipts(t *testing.T) {
	s := New()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mine1 := msgAt("a1", "c1", "alice", "one", at)
	mine1.State = chat.StateSent
	mine2 := msgAt("a2", "c1", "alice", "two", at.Add(time.Second))
	mine2.State = chat.StateSent
	theirs := msgAt("b1", "c1", "bob", "reply", at.Add(2*time.Second))
	s.UpsertMessage(mine1, "alice")
	s.UpsertMessage(mine2, "alice")
	s.UpsertMessage(theirs, "alice")

	s.ApplyDeliveryUpdate("c1", "alice", "a1")
	got, _ := s.Message("c1", "a1")
	if got.State != chat.StateDelivered {
		t.Errorf("a1 should be delivered, got %s", got.State)
	}
	got, _ = s.Message("c1", "a2")
	if got.State != chat.StateSent {
		t.Errorf("a2 is past the reference and should stay sent, got %s", got.State)
	}

	s.ApplyReadReceipt("c1", "alice")
	for _, id := range []string{"a1", "a2"} {
		got, _ = s.Message("c1", id)
		if got.State != chat.StateRead {
			t.Errorf("%s should be read, got %s", id, got.State)
		}
	}
	// The counterpart's message is not the viewer's outgoing traffic.
	got, _ = s.Message("c1", "b1")
	if got.State == chat.StateRead {
		t.Error("read receipt must not touch the other party's messages")
	}

	// Receipts against unknown conversations are no-ops.
	s.ApplyDeliveryUpdate("ghost", "alice", "")
	s.ApplyReadReceipt("ghost", "alice")
}

func TestApplyReactionReplacesWholesale(t *testing.T) {
	s := New()
	m := msgAt("m1", "c1", "bob", "hi", time.Now().UTC())
	m.Reactions = map[string][]string{"👍": {"alice"}}
	s.UpsertMessage(m, "alice")

	s.ApplyReaction("c1", "m1", map[string][]string{"❤️": {"alice", "carol"}})

	got, _ := s.Message("c1", "m1")
	if _, ok := got.Reactions["👍"]; ok {
		t.Error("old reaction survived a wholesale replace")
	}
	if len(got.Reactions["❤️"]) != 2 {
		t.Errorf("unexpected reactions: %+v", got.Reactions)
	}

	s.ApplyReaction("c1", "nope", nil) // no-op
}

func TestApplyReactionResolvesRoomByMessageID(t *testing.T) {
	s := New()
	s.UpsertMessage(msgAt("m1", "c1", "bob", "hi", time.Now().UTC()), "alice")
	s.UpsertMessage(msgAt("m2", "c2", "bob", "yo", time.Now().UTC()), "alice")

	// Reaction frames carry no conversation id; the index scan finds
	// the right room.
	s.ApplyReaction("", "m2", map[string][]string{"+1": {"alice"}})

	got, _ := s.Message("c2", "m2")
	if len(got.Reactions["+1"]) != 1 {
		t.Errorf("reaction not applied: %+v", got.Reactions)
	}
	if other, _ := s.Message("c1", "m1"); len(other.Reactions) != 0 {
		t.Errorf("wrong message touched: %+v", other.Reactions)
	}

	s.ApplyReaction("", "ghost", map[string][]string{"+1": {"alice"}}) // no-op
}

func TestOwnUnconfirmed(t *testing.T) {
	s := New()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	sent := msgAt("a1", "c1", "alice", "sent", at)
	sent.State = chat.StateSent
	delivered := msgAt("a2", "c1", "alice", "delivered", at.Add(time.Second))
	delivered.State = chat.StateDelivered
	pending := msgAt("a3", "c1", "alice", "pending", at.Add(2*time.Second))
	pending.State = chat.StatePending
	failed := msgAt("a4", "c1", "alice", "failed", at.Add(3*time.Second))
	failed.State = chat.StateFailed
	theirs := msgAt("b1", "c1", "bob", "theirs", at.Add(4*time.Second))

	for _, m := range []*chat.Message{sent, delivered, pending, failed, theirs} {
		s.UpsertMessage(m, "alice")
	}

	ids := s.OwnUnconfirmed("alice", chat.StateDelivered)
	if len(ids) != 1 || ids[0] != "a1" {
		t.Errorf("expected only the sent-but-undelivered id, got %v", ids)
	}
}

func TestResetDropsEverything(t *testing.T) {
	s := New()
	s.UpsertMessage(msgAt("m1", "c1", "bob", "hi", time.Now().UTC()), "alice")
	s.ApplyInboxUpdate(msgAt("m1", "c1", "bob", "hi", time.Now().UTC()), "alice", false)

	s.Reset()

	if len(s.Messages("c1")) != 0 {
		t.Error("messages survived reset")
	}
	if len(s.Inbox()) != 0 {
		t.Error("inbox survived reset")
	}
}
