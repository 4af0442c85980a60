// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package registry tracks the datasets a server (or builder) knows about:
// for each operator-chosen name, the atlas path, the tile data directory,
// and the atlas shape.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/atlas"
)

// Dataset describes one registered dataset.
type Dataset struct {
	Name      string     `json:"-"`
	Kind      atlas.Kind `json:"kind"`
	AtlasPath string     `json:"atlas_path"`
	DataDir   string     `json:"data_directory"`
}

// Registry is a name-keyed dataset collection, safe for concurrent readers.
type Registry struct {
	mu       sync.RWMutex
	datasets map[string]Dataset
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{datasets: make(map[string]Dataset)}
}

// Add registers or replaces a dataset.
func (r *Registry) Add(d Dataset) error {
	if d.Name == "" {
		return fmt.Errorf("registry: dataset name is required")
	}
	if d.Kind != atlas.KindLAZ && d.Kind != atlas.KindVector {
		return fmt.Errorf("registry: dataset %s has unknown kind %q", d.Name, d.Kind)
	}
	r.mu.Lock()
	r.datasets[d.Name] = d
	r.mu.Unlock()
	return nil
}

// Get looks up a dataset by name.
func (r *Registry) Get(name string) (Dataset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.datasets[name]
	return d, ok
}

// Names returns the registered dataset names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads a registry file: a JSON object mapping dataset name to
// {atlas_path, data_directory, kind}.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var raw map[string]Dataset
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", path, err)
	}

	r := New()
	for name, d := range raw {
		d.Name = name
		if err := r.Add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Save writes the registry atomically (temp file plus rename).
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	raw := make(map[string]Dataset, len(r.datasets))
	for name, d := range r.datasets {
		raw[name] = d
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*.json")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadOrNew loads path when it exists and returns an empty registry when it
// does not.
func LoadOrNew(path string) (*Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return Load(path)
}
