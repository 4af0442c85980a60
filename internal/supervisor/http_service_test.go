// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockServer implements HTTPServer with controllable behavior.
type mockServer struct {
	listenErr  error
	listenDone chan struct{}
	shutdownCh chan struct{}
}

func newMockServer() *mockServer {
	return &mockServer{
		listenDone: make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

func (m *mockServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.listenDone
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	close(m.shutdownCh)
	close(m.listenDone)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	mock := newMockServer()
	svc := NewHTTPServerService(mock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	select {
	case <-mock.shutdownCh:
	default:
		t.Error("Shutdown was not called")
	}
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	mock := newMockServer()
	mock.listenErr = errors.New("address in use")
	svc := NewHTTPServerService(mock, time.Second)

	err := svc.Serve(context.Background())
	if !errors.Is(err, mock.listenErr) {
		t.Fatalf("Serve = %v, want listen error", err)
	}
}

func TestHTTPServiceString(t *testing.T) {
	if got := NewHTTPServerService(newMockServer(), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}
