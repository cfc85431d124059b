// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package chat defines the canonical data model of the synchronization
// engine: conversations, messages, delivery states, presence records,
// and the closed set of typed server events.
//
// Every inbound frame, regardless of its wire shape, is normalized into
// an Event at this boundary so that downstream components never branch
// on payload shape. A frame that cannot resolve the fields required to
// identify {message id, conversation id, sender id} is rejected here
// and never reaches the caches.
package chat
