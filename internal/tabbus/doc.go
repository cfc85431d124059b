// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package tabbus links sibling chatsync instances of the same session
// (several agent processes on one machine, or one per window) through a
// Watermill pub/sub channel so a mutation made by one instance lands in
// the others' caches without waiting for a server round trip. Echoes of
// an instance's own broadcasts are discarded by origin id.
//
// Production wiring runs over NATS, either an external server or the
// embedded one; tests use Watermill's in-process gochannel transport.
package tabbus
