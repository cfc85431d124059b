// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package send

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a send failure by how the caller should react.
type ErrorKind string

const (
	// KindIdentity means the session is unauthenticated or the token was
	// rejected. Sends are blocked until identity resolves again.
	KindIdentity ErrorKind = "identity"
	// KindTransient covers network failures, 5xx responses, rate-limit
	// pushback and an open circuit breaker. Retry is expected to work.
	KindTransient ErrorKind = "transient"
	// KindRejected means the server refused the message itself (4xx).
	// Retrying the identical payload will fail again.
	KindRejected ErrorKind = "rejected"
)

// SendError wraps an API failure with its classification.
type SendError struct {
	Kind ErrorKind
	// StatusCode is the HTTP status when one was received, else zero.
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("send %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Kind extracts the classification from err, defaulting to transient
// for errors that carry none (network-level failures).
func Kind(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}
