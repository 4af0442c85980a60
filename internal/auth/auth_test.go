// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	store := NewTokenStore(2 * time.Second)
	store.now = func() time.Time { return now }

	token, err := store.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("token %q is not 16 hex bytes", token)
	}

	now = now.Add(1 * time.Second)
	user, err := store.Validate(token)
	if err != nil || user != "alice" {
		t.Fatalf("Validate at t=1: %q, %v", user, err)
	}

	now = now.Add(2 * time.Second)
	if _, err := store.Validate(token); err != ErrUnauthorized {
		t.Fatalf("Validate at t=3: want ErrUnauthorized, got %v", err)
	}
	// Expired entry is removed eagerly.
	if store.Len() != 0 {
		t.Errorf("expired token not deleted, %d entries remain", store.Len())
	}
}

func TestTokenValidateUnknown(t *testing.T) {
	store := NewTokenStore(time.Hour)
	if _, err := store.Validate("deadbeef"); err != ErrUnauthorized {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	store := NewTokenStore(time.Hour)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := store.Issue("bob")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestMiddlewarePublicPaths(t *testing.T) {
	store := NewTokenStore(time.Hour)
	mw := NewMiddleware(store, true)

	var reached bool
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	public := []string{"/", "/healthz", "/auth/token", "/auth/github", "/access/request", "/docs/index.html", "/metrics"}
	for _, path := range public {
		reached = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if !reached || rec.Code != http.StatusOK {
			t.Errorf("public path %s blocked: code=%d reached=%v", path, rec.Code, reached)
		}
	}

	reached = false
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gpkg/tiles", nil))
	if reached || rec.Code != http.StatusUnauthorized {
		t.Errorf("protected path admitted without token: code=%d", rec.Code)
	}
}

func TestMiddlewareTokenFlow(t *testing.T) {
	store := NewTokenStore(time.Hour)
	mw := NewMiddleware(store, true)

	var gotUser string
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = Username(r.Context())
	}))

	token, _ := store.Issue("carol")

	req := httptest.NewRequest(http.MethodPost, "/gpkg/tiles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotUser != "carol" {
		t.Fatalf("valid token rejected: code=%d user=%q", rec.Code, gotUser)
	}

	req = httptest.NewRequest(http.MethodPost, "/gpkg/tiles", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token admitted: code=%d", rec.Code)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	mw := NewMiddleware(NewTokenStore(time.Hour), false)
	var reached bool
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/gpkg/tiles", nil))
	if !reached {
		t.Error("disabled middleware still blocked the request")
	}
}

func TestStaticIdentityProvider(t *testing.T) {
	p := &StaticIdentityProvider{Users: map[string]string{"dave": "hunter2"}}
	if err := p.Authenticate(context.Background(), "dave", "hunter2"); err != nil {
		t.Errorf("valid credentials rejected: %v", err)
	}
	if err := p.Authenticate(context.Background(), "dave", "wrong"); err != ErrUnauthorized {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header, want string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"token ghp_xyz", "ghp_xyz"},
		{"Token ghp_xyz", "ghp_xyz"},
		{"Basic dXNlcg==", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BearerToken(tt.header); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestGitHubVerifier(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"login": "erin", "id": 7}`))
	})
	mux.HandleFunc("/repos/acme/tiles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"permissions": {"push": true, "pull": true}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := NewGitHubVerifier(srv.URL, "acme/tiles")

	user, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.Login != "erin" || user.Permission != PermWrite {
		t.Errorf("unexpected user %+v", user)
	}

	if _, err := v.Verify(context.Background(), "bad"); err == nil {
		t.Error("invalid token verified")
	}
}

func TestGitHubVerifierInsufficientPermission(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"login": "frank"}`))
	})
	mux.HandleFunc("/repos/acme/tiles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"permissions": {"pull": true, "triage": true}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := NewGitHubVerifier(srv.URL, "acme/tiles")
	if _, err := v.Verify(context.Background(), "any"); err == nil {
		t.Error("triage-level token passed a write-level check")
	}
}
