// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package send implements the outgoing message pipeline: optimistic
// cache insertion, durable outbox persistence, the network call, and
// the pending/sent/failed state machine with user-driven retry and
// discard. The API client behind it is rate limited and wrapped in a
// circuit breaker so a struggling backend degrades sends instead of
// piling up goroutines.
package send
