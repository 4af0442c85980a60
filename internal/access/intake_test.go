// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package access

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func testRecord(email, ip string) Record {
	return Record{
		Name:           "Alice",
		Surname:        "Svensson",
		Email:          email,
		GitHubUsername: "alice",
		Timestamp:      "2026-08-01T12:00:00Z",
		RemoteAddr:     ip,
		UserAgent:      "test",
	}
}

func newTestIntake(t *testing.T, cfg ThrottleConfig) (*Intake, *time.Time) {
	t.Helper()
	now := time.Unix(0, 0)
	in := NewIntake(t.TempDir(), cfg, nil)
	in.now = func() time.Time { return now }
	return in, &now
}

func TestSubmitPersistsRecord(t *testing.T) {
	in, _ := newTestIntake(t, DefaultThrottleConfig())

	if _, err := in.Submit(context.Background(), testRecord("a@b.se", "1.1.1.1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f, err := os.Open(in.LogPath())
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("log line not valid JSON: %v", err)
		}
		if rec.Email != "a@b.se" {
			t.Errorf("unexpected record %+v", rec)
		}
	}
	if lines != 1 {
		t.Errorf("expected 1 log line, got %d", lines)
	}
}

func TestMinIntervalPerEmail(t *testing.T) {
	cfg := ThrottleConfig{Window: time.Hour, MinInterval: 30 * time.Second, MaxPerIP: 100, MaxPerEmail: 100}
	in, now := newTestIntake(t, cfg)
	ctx := context.Background()

	if _, err := in.Submit(ctx, testRecord("a@b.se", "1.1.1.1")); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// 10 s later, same email from another IP: rejected on the email axis.
	*now = now.Add(10 * time.Second)
	if _, err := in.Submit(ctx, testRecord("A@B.SE", "2.2.2.2")); !errors.Is(err, ErrThrottled) {
		t.Fatalf("want ErrThrottled, got %v", err)
	}

	// 35 s after the first: admitted.
	*now = now.Add(25 * time.Second)
	if _, err := in.Submit(ctx, testRecord("a@b.se", "3.3.3.3")); err != nil {
		t.Fatalf("submit after interval: %v", err)
	}
}

func TestPerIPWindowCap(t *testing.T) {
	cfg := ThrottleConfig{Window: time.Hour, MaxPerIP: 2, MaxPerEmail: 100}
	in, now := newTestIntake(t, cfg)
	ctx := context.Background()

	emails := []string{"a@x.se", "b@x.se", "c@x.se"}
	for i, email := range emails[:2] {
		if _, err := in.Submit(ctx, testRecord(email, "9.9.9.9")); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		*now = now.Add(time.Minute)
	}
	if _, err := in.Submit(ctx, testRecord(emails[2], "9.9.9.9")); !errors.Is(err, ErrThrottled) {
		t.Fatalf("third submit from same IP: want ErrThrottled, got %v", err)
	}

	// Rejected submissions must not be persisted.
	f, _ := os.Open(in.LogPath())
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("log has %d lines, want 2", lines)
	}
}

func TestTicketFailureDoesNotFailIntake(t *testing.T) {
	in, _ := newTestIntake(t, DefaultThrottleConfig())
	in.ticketer = failingTicketer{}

	result, err := in.Submit(context.Background(), testRecord("a@b.se", "1.1.1.1"))
	if err != nil {
		t.Fatalf("intake failed on ticket error: %v", err)
	}
	if result.Created {
		t.Error("ticket reported created despite failure")
	}
	if _, err := os.Stat(in.LogPath()); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
}

type failingTicketer struct{}

func (failingTicketer) CreateTicket(context.Context, Record) (TicketResult, error) {
	return TicketResult{}, errors.New("tracker down")
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Example.COM "); got != "user@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}

func TestGitHubTicketer(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"html_url": "https://example.com/issues/42", "number": 42}`))
	}))
	defer srv.Close()

	tk := NewGitHubTicketer(srv.URL, "acme/auth", "secret", []string{"access-request"})
	result, err := tk.CreateTicket(context.Background(), testRecord("a@b.se", "1.1.1.1"))
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if !result.Created || result.ID != 42 || result.URL != "https://example.com/issues/42" {
		t.Errorf("unexpected result %+v", result)
	}
	if gotPath != "/repos/acme/auth/issues" {
		t.Errorf("posted to %s", gotPath)
	}
	if gotBody["title"] != "Access request: Alice Svensson (alice)" {
		t.Errorf("title = %v", gotBody["title"])
	}
}

func TestGitHubTicketerBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tk := NewGitHubTicketer(srv.URL, "acme/auth", "secret", nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := tk.CreateTicket(ctx, testRecord("a@b.se", "1.1.1.1")); err == nil {
			t.Fatal("expected failure")
		}
	}
	// Breaker is now open; the call fails fast without hitting the server.
	srv.Close()
	if _, err := tk.CreateTicket(ctx, testRecord("a@b.se", "1.1.1.1")); err == nil {
		t.Fatal("expected open-breaker failure")
	}
}
