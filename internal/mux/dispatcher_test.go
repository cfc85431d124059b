// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package mux

import (
	"context"
	"testing"
	"time"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/presence"
	"github.com/vicinity-app/chatsync/internal/store"
)

const (
	testViewer   = "user-alice"
	testPeer     = "user-bob"
	testInstance = "instance-1"
)

type fakeRemover struct {
	removed [][2]string
}

func (f *fakeRemover) Remove(_ context.Context, roomID, msgID string) error {
	f.removed = append(f.removed, [2]string{roomID, msgID})
	return nil
}

func newTestDispatcher() (*Dispatcher, *store.Store, *presence.Tracker, *fakeRemover) {
	st := store.New()
	pt := presence.NewTracker(presence.DefaultTypingTTL)
	rm := &fakeRemover{}
	d := NewDispatcher(st, pt, rm, func() string { return testViewer }, testInstance)
	return d, st, pt, rm
}

func peerMessage(roomID, msgID, content string) *chat.Message {
	return &chat.Message{
		ID:             msgID,
		ConversationID: roomID,
		SenderID:       testPeer,
		Content:        content,
		Type:           chat.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestDispatchNewMessage(t *testing.T) {
	d, st, _, _ := newTestDispatcher()

	d.Dispatch(context.Background(), &chat.Event{
		Type:    chat.EventNewMessage,
		Message: peerMessage("room-1", "msg-1", "hello"),
	})

	msgs := st.Messages("room-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].State != chat.StateDelivered {
		t.Errorf("incoming message state = %q, want delivered", msgs[0].State)
	}

	conv, ok := st.Conversation("room-1")
	if !ok {
		t.Fatal("expected conversation in inbox")
	}
	if conv.Unread != 1 {
		t.Errorf("unread = %d, want 1", conv.Unread)
	}
}

func TestDispatchNewMessageActiveRoomNoUnread(t *testing.T) {
	d, st, _, _ := newTestDispatcher()
	d.SetActive("room-1", true)

	d.Dispatch(context.Background(), &chat.Event{
		Type:    chat.EventNewMessage,
		Message: peerMessage("room-1", "msg-1", "hello"),
	})

	conv, _ := st.Conversation("room-1")
	if conv.Unread != 0 {
		t.Errorf("unread = %d, want 0 for active visible room", conv.Unread)
	}
}

func TestDispatchNewMessageActiveButHidden(t *testing.T) {
	d, st, _, _ := newTestDispatcher()
	d.SetActive("room-1", false)

	d.Dispatch(context.Background(), &chat.Event{
		Type:    chat.EventNewMessage,
		Message: peerMessage("room-1", "msg-1", "hello"),
	})

	conv, _ := st.Conversation("room-1")
	if conv.Unread != 1 {
		t.Errorf("unread = %d, want 1 for hidden room", conv.Unread)
	}
}

func TestDispatchEchoSuppression(t *testing.T) {
	d, st, _, _ := newTestDispatcher()

	d.Dispatch(context.Background(), &chat.Event{
		Type:    chat.EventNewMessage,
		Origin:  testInstance,
		Message: peerMessage("room-1", "msg-1", "echo of ourselves"),
	})

	if got := st.Messages("room-1"); len(got) != 0 {
		t.Fatalf("echoed event applied: %d messages", len(got))
	}
}

func TestDispatchSiblingOriginApplied(t *testing.T) {
	d, st, _, _ := newTestDispatcher()

	d.Dispatch(context.Background(), &chat.Event{
		Type:    chat.EventNewMessage,
		Origin:  "instance-2",
		Message: peerMessage("room-1", "msg-1", "from a sibling"),
	})

	if got := st.Messages("room-1"); len(got) != 1 {
		t.Fatalf("sibling event not applied: %d messages", len(got))
	}
}

func TestDispatchDeliveredAndRead(t *testing.T) {
	d, st, _, _ := newTestDispatcher()

	own := &chat.Message{
		ID:             "msg-1",
		ConversationID: "room-1",
		SenderID:       testViewer,
		Content:        "sent by us",
		Type:           chat.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
		State:          chat.StateSent,
	}
	st.UpsertMessage(own, testViewer)

	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventDelivered,
		ConversationID: "room-1",
		MessageID:      "msg-1",
	})
	got, _ := st.Message("room-1", "msg-1")
	if got.State != chat.StateDelivered {
		t.Fatalf("state after delivery = %q, want delivered", got.State)
	}

	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventRead,
		ConversationID: "room-1",
		ReaderID:       testPeer,
	})
	got, _ = st.Message("room-1", "msg-1")
	if got.State != chat.StateRead {
		t.Fatalf("state after read receipt = %q, want read", got.State)
	}
}

func TestDispatchOwnReadOnSiblingClearsUnread(t *testing.T) {
	d, st, _, _ := newTestDispatcher()

	d.Dispatch(context.Background(), &chat.Event{
		Type:    chat.EventNewMessage,
		Message: peerMessage("room-1", "msg-1", "hello"),
	})
	if conv, _ := st.Conversation("room-1"); conv.Unread != 1 {
		t.Fatalf("setup: unread = %d, want 1", conv.Unread)
	}

	// Our own read event, e.g. raised on another device.
	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventRead,
		ConversationID: "room-1",
		ReaderID:       testViewer,
	})

	if conv, _ := st.Conversation("room-1"); conv.Unread != 0 {
		t.Errorf("unread = %d, want 0 after own read", conv.Unread)
	}
}

func TestDispatchTypingAndPresence(t *testing.T) {
	d, _, pt, _ := newTestDispatcher()

	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventTyping,
		ConversationID: "room-1",
		SenderID:       testPeer,
		Typing:         true,
	})
	if got := pt.Typing("room-1"); len(got) != 1 || got[0] != testPeer {
		t.Fatalf("typing = %v, want [%s]", got, testPeer)
	}

	d.Dispatch(context.Background(), &chat.Event{
		Type:     chat.EventPresence,
		Presence: &chat.PresenceRecord{ActorID: testPeer, Status: chat.PresenceOnline},
	})
	rec, ok := pt.Presence(testPeer)
	if !ok || rec.Status != chat.PresenceOnline {
		t.Fatalf("presence = %+v ok=%v, want online", rec, ok)
	}
}

func TestDispatchDeleteAndReaction(t *testing.T) {
	d, st, _, _ := newTestDispatcher()

	st.UpsertMessage(peerMessage("room-1", "msg-1", "hello"), testViewer)
	st.UpsertMessage(peerMessage("room-1", "msg-2", "world"), testViewer)

	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventMessageReaction,
		ConversationID: "room-1",
		MessageID:      "msg-2",
		Reactions:      map[string][]string{"+1": {testPeer}},
	})
	got, _ := st.Message("room-1", "msg-2")
	if len(got.Reactions["+1"]) != 1 {
		t.Fatalf("reactions not applied: %+v", got.Reactions)
	}

	// Wire reaction frames carry no conversation id; the cache resolves
	// the room from the message id.
	d.Dispatch(context.Background(), &chat.Event{
		Type:      chat.EventMessageReaction,
		MessageID: "msg-1",
		Reactions: map[string][]string{"❤️": {testPeer}},
	})
	got, _ = st.Message("room-1", "msg-1")
	if len(got.Reactions["❤️"]) != 1 {
		t.Fatalf("room-less reaction not applied: %+v", got.Reactions)
	}

	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventMessageDeleted,
		ConversationID: "room-1",
		MessageID:      "msg-1",
	})
	if msgs := st.Messages("room-1"); len(msgs) != 1 || msgs[0].ID != "msg-2" {
		t.Fatalf("after delete got %d messages", len(msgs))
	}
}

func TestDispatchRollback(t *testing.T) {
	d, st, _, rm := newTestDispatcher()

	own := &chat.Message{
		ID:             "msg-1",
		ConversationID: "room-1",
		SenderID:       testViewer,
		Content:        "rejected",
		Type:           chat.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
		State:          chat.StatePending,
	}
	st.UpsertMessage(own, testViewer)

	d.Dispatch(context.Background(), &chat.Event{
		Type:           chat.EventRollback,
		ConversationID: "room-1",
		MessageID:      "msg-1",
	})

	if msgs := st.Messages("room-1"); len(msgs) != 0 {
		t.Fatalf("rollback left %d messages", len(msgs))
	}
	if len(rm.removed) != 1 || rm.removed[0] != [2]string{"room-1", "msg-1"} {
		t.Fatalf("pending entry not removed: %v", rm.removed)
	}
}
