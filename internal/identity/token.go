// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when the session token fails verification
// or carries no usable subject.
var ErrInvalidToken = errors.New("identity: invalid session token")

// FromSessionToken verifies the platform session token (HMAC-signed
// JWT) and extracts the actor id from its subject claim. This is the
// single place the engine learns who the actor is; everything else
// reads the gate.
func FromSessionToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}
	return subject, nil
}

// ResolveFromToken verifies the token and resolves the gate with its
// subject in one step.
func (g *Gate) ResolveFromToken(tokenString string, secret []byte) error {
	actorID, err := FromSessionToken(tokenString, secret)
	if err != nil {
		return err
	}
	g.Resolve(actorID)
	return nil
}
