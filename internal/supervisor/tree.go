// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/tilevault/internal/logging"
)

// Tree is the root supervisor. The server is small enough for a flat tree;
// services that crash restart with suture's backoff, and supervisor events
// land in the process log through the slog bridge.
type Tree struct {
	root *suture.Supervisor
}

// NewTree builds the root supervisor.
func NewTree(shutdownTimeout time.Duration) *Tree {
	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}

	root := suture.New("tilevault", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
	return &Tree{root: root}
}

// Add registers a service with the root supervisor.
func (t *Tree) Add(svc suture.Service) {
	t.root.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
