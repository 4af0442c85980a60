// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package auth implements token-based authentication for the tile server:
// an in-memory bearer token store, pluggable identity providers (SSH password
// check, GitHub repository permission), and the HTTP middleware that gates
// non-public routes.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// AnonymousToken is handed out by the token endpoint when authentication is
// disabled, so clients keep a uniform flow.
const AnonymousToken = "anonymous"

// DefaultTokenTTL is the token lifetime when none is configured.
const DefaultTokenTTL = time.Hour

// ErrUnauthorized is returned for unknown, expired, or rejected credentials
// and tokens.
var ErrUnauthorized = errors.New("auth: unauthorized")

// tokenInfo is the per-token record. Tokens are process-local; a restart
// invalidates all of them and clients re-authenticate.
type tokenInfo struct {
	username string
	expiry   time.Time
}

// TokenStore issues and validates opaque bearer tokens. All operations are
// O(1) under a single mutex.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenInfo
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore creates a store with the given token lifetime.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{
		tokens: make(map[string]tokenInfo),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the configured token lifetime.
func (s *TokenStore) TTL() time.Duration { return s.ttl }

// Issue mints a new opaque token for username. 16 random bytes give the
// token 128 bits of entropy.
func (s *TokenStore) Issue(username string) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	s.tokens[token] = tokenInfo{username: username, expiry: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

// Validate resolves a token to the username it was issued for. Expired
// entries are deleted eagerly and reported as ErrUnauthorized, same as
// unknown tokens.
func (s *TokenStore) Validate(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.tokens[token]
	if !ok {
		return "", ErrUnauthorized
	}
	if s.now().After(info.expiry) {
		delete(s.tokens, token)
		return "", ErrUnauthorized
	}
	return info.username, nil
}

// Revoke removes a token. Unknown tokens are a no-op.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Len reports the number of live entries, counting not-yet-reaped expired
// ones. Used by tests.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
