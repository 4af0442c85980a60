// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// usernameKey carries the authenticated username through the request context.
const usernameKey contextKey = "auth_username"

// Middleware gates requests behind bearer-token validation. Public path
// prefixes bypass the check, as does Enabled=false (all-public deployments).
type Middleware struct {
	Store   *TokenStore
	Enabled bool

	// PublicPaths are exact paths or "/prefix/" entries that skip the token
	// check: health, root, token issuance, intake, identity callback, docs.
	PublicPaths []string

	// OnUnauthorized writes the 401 response; the api package injects its
	// envelope writer here to avoid an import cycle.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request, reason string)
}

// DefaultPublicPaths lists the endpoints that never require a token.
var DefaultPublicPaths = []string{
	"/",
	"/healthz",
	"/metrics",
	"/auth/token",
	"/auth/github",
	"/access/request",
	"/docs/",
}

// NewMiddleware builds the authentication middleware.
func NewMiddleware(store *TokenStore, enabled bool) *Middleware {
	return &Middleware{
		Store:       store,
		Enabled:     enabled,
		PublicPaths: DefaultPublicPaths,
		OnUnauthorized: func(w http.ResponseWriter, _ *http.Request, reason string) {
			http.Error(w, reason, http.StatusUnauthorized)
		},
	}
}

// isPublic reports whether the path bypasses authentication.
func (m *Middleware) isPublic(path string) bool {
	for _, p := range m.PublicPaths {
		if strings.HasSuffix(p, "/") && p != "/" {
			if strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Handler wraps next with the token check.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled || m.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			m.OnUnauthorized(w, r, "Missing or invalid Authorization header")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		username, err := m.Store.Validate(token)
		if err != nil {
			m.OnUnauthorized(w, r, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Username returns the authenticated username from the request context,
// empty for public or unauthenticated requests.
func Username(ctx context.Context) string {
	if u, ok := ctx.Value(usernameKey).(string); ok {
		return u
	}
	return ""
}
