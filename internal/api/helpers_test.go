// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func newRequestWithRemote(remote string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remote
	return r
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	good := []string{"tile.laz", "tile_0_0.gpkg", "UPPER.GPKG", "weird name.laz"}
	for _, name := range good {
		path, err := safeJoin(base, name)
		if err != nil {
			t.Errorf("safeJoin(%q) rejected: %v", name, err)
			continue
		}
		if filepath.Dir(path) != base {
			t.Errorf("safeJoin(%q) escaped base: %s", name, path)
		}
	}

	bad := []string{
		"",
		".",
		"..",
		"../etc/passwd",
		"..\\windows",
		"a/b.laz",
		"a\\b.laz",
		"tile..laz",
		strings.Repeat("../", 10) + "root",
		"/etc/passwd",
	}
	for _, name := range bad {
		if _, err := safeJoin(base, name); err == nil {
			t.Errorf("safeJoin(%q) accepted", name)
		}
	}
}

func TestClientIPOf(t *testing.T) {
	tests := []struct {
		remote, want string
	}{
		{"10.1.2.3:4444", "10.1.2.3"},
		{"[::1]:8080", "::1"},
		{"plainhost", "plainhost"},
	}
	for _, tt := range tests {
		r := newRequestWithRemote(tt.remote)
		if got := clientIPOf(r); got != tt.want {
			t.Errorf("clientIPOf(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
