// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package mux is the event multiplexer: it owns at most one streaming
// connection per logical scope (the viewer's personal feed plus each
// watched conversation), normalizes incoming frames into canonical
// events, and applies them to the caches through the Cache Authority.
//
// Subscriptions are reference counted: opening a conversation view
// watches it, closing the last view tears the stream down. On transport
// drop the multiplexer reconnects with exponential backoff; when the
// offline gap exceeds a bounded interval it invokes a caller-registered
// resync hook instead of inventing a gap-fill protocol of its own.
package mux
