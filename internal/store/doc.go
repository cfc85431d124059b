// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package store implements the Cache Authority: the sole component
// permitted to mutate the local message store and the inbox store.
//
// The event multiplexer, the send pipeline, and the cross-tab bus all
// route every mutation through the operations exported here, so a
// single code path handles a mutation no matter where it originated.
// No direct setters are exposed; the convention is structural.
//
// All operations are non-throwing cache mutations. Operations against a
// conversation that has not been loaded are no-ops, which makes them
// safe to call from any event ordering, including events that arrive
// before the conversation itself.
package store
