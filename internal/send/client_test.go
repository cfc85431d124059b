// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package send

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vicinity-app/chatsync/internal/chat"
)

func testMessage() *chat.Message {
	return &chat.Message{
		ID:             "msg-1",
		ConversationID: "room-1",
		SenderID:       "user-alice",
		Content:        "hello",
		Type:           chat.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
		State:          chat.StatePending,
	}
}

func TestClientSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotMsg chat.Message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotMsg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	if err := c.SendMessage(context.Background(), testMessage()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/v1/conversations/room-1/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotMsg.ID != "msg-1" {
		t.Errorf("posted id = %q, want the client-minted id", gotMsg.ID)
	}
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, KindIdentity},
		{"forbidden", http.StatusForbidden, KindIdentity},
		{"server error", http.StatusInternalServerError, KindTransient},
		{"rate limited", http.StatusTooManyRequests, KindTransient},
		{"unprocessable", http.StatusUnprocessableEntity, KindRejected},
		{"not found", http.StatusNotFound, KindRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
			err := c.SendMessage(context.Background(), testMessage())
			if err == nil {
				t.Fatal("expected error")
			}
			if Kind(err) != tt.want {
				t.Errorf("kind = %q, want %q", Kind(err), tt.want)
			}
		})
	}
}

func TestClientNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // Immediately dead endpoint.

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	err := c.SendMessage(context.Background(), testMessage())
	if Kind(err) != KindTransient {
		t.Fatalf("kind = %q, want transient (%v)", Kind(err), err)
	}
}

func TestClientReconcileReceipts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req reconcileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MessageIDs) != 2 {
			t.Errorf("request = %+v err=%v", req, err)
		}
		_ = json.NewEncoder(w).Encode(reconcileResponse{States: map[string]chat.DeliveryState{
			"msg-1": chat.StateRead,
		}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	states, err := c.ReconcileReceipts(context.Background(), []string{"msg-1", "msg-2"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if states["msg-1"] != chat.StateRead {
		t.Errorf("states = %v", states)
	}

	// Empty batch never hits the network.
	states, err = c.ReconcileReceipts(context.Background(), nil)
	if err != nil || states != nil {
		t.Errorf("empty batch: states=%v err=%v", states, err)
	}
}

func TestClientConversationsAndMessages(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversations":
			_ = json.NewEncoder(w).Encode([]*chat.Conversation{
				{ID: "room-1", Unread: 2, UpdatedAt: now},
			})
		case "/v1/conversations/room-1/messages":
			_ = json.NewEncoder(w).Encode([]*chat.Message{
				{ID: "msg-1", ConversationID: "room-1", SenderID: "user-bob", Content: "hi", CreatedAt: now},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})

	convs, err := c.Conversations(context.Background())
	if err != nil || len(convs) != 1 || convs[0].Unread != 2 {
		t.Fatalf("conversations = %+v err=%v", convs, err)
	}

	msgs, err := c.Messages(context.Background(), "room-1")
	if err != nil || len(msgs) != 1 || msgs[0].ID != "msg-1" {
		t.Fatalf("messages = %+v err=%v", msgs, err)
	}
}
